package protocol

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// zstdMagic 为 zstd 帧的前 4 字节。JSON 文本不会以 0x28 开头，据此区分压缩 body。
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(MaxFrame+1))
		return dec
	}}
)

func getEncoder() *zstd.Encoder  { return encoderPool.Get().(*zstd.Encoder) }
func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }
func getDecoder() *zstd.Decoder  { return decoderPool.Get().(*zstd.Decoder) }
func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }

// IsCompressed 判断 body 是否为 zstd 压缩数据
func IsCompressed(body []byte) bool { return bytes.HasPrefix(body, zstdMagic) }

// Compress 以 zstd 压缩 body
func Compress(body []byte) []byte {
	zw := getEncoder()
	out := zw.EncodeAll(body, make([]byte, 0, len(body)/2+16))
	putEncoder(zw)
	return out
}

// Decompress 解压 body，解压结果超过 limit 字节时返回 ErrFrameTooLarge
func Decompress(body []byte, limit int) ([]byte, error) {
	dz := getDecoder()
	out, err := dz.DecodeAll(body, nil)
	putDecoder(dz)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, errors.Wrapf(ErrFrameTooLarge, "decompress: %v", err)
		}
		return nil, errors.Wrapf(ErrMalformed, "decompress: %v", err)
	}
	if limit > 0 && len(out) > limit {
		return nil, errors.Wrapf(ErrFrameTooLarge, "decompressed %d, limit %d", len(out), limit)
	}
	return out, nil
}
