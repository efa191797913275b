package cache

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 负责 Record 的序列化，具体格式由配置项 StoreCodec 选择。
type Codec interface {
	Name() string
	Marshal(Record) ([]byte, error)
	Unmarshal([]byte, *Record) error
}

const (
	codecIDMsgpack byte = 1
	codecIDCBOR    byte = 2

	envelopeVersion byte = 1
)

var (
	// ErrCorrupt 表示存储中的条目无法解码。
	ErrCorrupt = errors.New("corrupt cache record")

	envelopeMagic = [...]byte{'S', 'H', 'C'}
)

// MsgpackCodec 使用 vmihailenco/msgpack 编码，零值可直接使用。
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(r Record) ([]byte, error) {
	return msgpack.Marshal(r)
}

func (MsgpackCodec) Unmarshal(b []byte, r *Record) error {
	return msgpack.Unmarshal(b, r)
}

// CBORCodec 使用 fxamacker/cbor 编码，需通过 NewCBORCodec 构造。
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec 使用 RFC 8949 core deterministic 选项构建编码器，时间字段编码为 RFC3339Nano。
func NewCBORCodec() (CBORCodec, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBORCodec{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBORCodec{}, err
	}
	return CBORCodec{enc: em, dec: dm}, nil
}

func (CBORCodec) Name() string { return "cbor" }

func (c CBORCodec) Marshal(r Record) ([]byte, error) {
	return c.enc.Marshal(r)
}

func (c CBORCodec) Unmarshal(b []byte, r *Record) error {
	return c.dec.Unmarshal(b, r)
}

// NewCodec 按名称返回编解码器，空字符串默认 msgpack。
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return MsgpackCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("unsupported store codec: %s", name)
	}
}

func codecID(c Codec) (byte, error) {
	switch c.Name() {
	case "msgpack":
		return codecIDMsgpack, nil
	case "cbor":
		return codecIDCBOR, nil
	default:
		return 0, fmt.Errorf("unsupported store codec: %s", c.Name())
	}
}

// encodeRecord: magic(3) | ver(1) | codec(1) | payload
func encodeRecord(c Codec, r Record) ([]byte, error) {
	id, err := codecID(c)
	if err != nil {
		return nil, err
	}
	payload, err := c.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(envelopeMagic) + 2 + len(payload))
	buf.Write(envelopeMagic[:])
	buf.WriteByte(envelopeVersion)
	buf.WriteByte(id)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeRecord 按信封中的 codec 标识解码，切换 StoreCodec 后旧条目仍可读取。
func decodeRecord(b []byte) (Record, error) {
	const hdr = len(envelopeMagic) + 2
	if len(b) < hdr || !bytes.Equal(b[:len(envelopeMagic)], envelopeMagic[:]) || b[len(envelopeMagic)] != envelopeVersion {
		return Record{}, ErrCorrupt
	}

	var c Codec
	switch b[hdr-1] {
	case codecIDMsgpack:
		c = MsgpackCodec{}
	case codecIDCBOR:
		cc, err := NewCBORCodec()
		if err != nil {
			return Record{}, err
		}
		c = cc
	default:
		return Record{}, ErrCorrupt
	}

	var r Record
	if err := c.Unmarshal(b[hdr:], &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}
