package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Marshal 序列化 JSON 文档（不转义 HTML 字符，不带结尾换行）
func Marshal(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "protocol: marshal")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Unmarshal 解析一个完整 JSON 文档，数字保留为 json.Number；尾部多余内容视为错误
func Unmarshal(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Wrap(ErrMalformed, "trailing data")
	}
	return doc, nil
}

// ReadFrame 从 r 读取一帧。声明长度 >= limit 时不读取 body，直接返回 ErrFrameTooLarge。
// limit <= 0 表示只受 MaxFrame 限制。
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var h [HeaderLen]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, err
	}
	n, _ := ParseHeader(h[:])
	if limit > 0 && n >= limit {
		return nil, errors.Wrapf(ErrFrameTooLarge, "length %d, limit %d", n, limit)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame 以一次 Write 写出一帧
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
