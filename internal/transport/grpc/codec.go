package grpctransport

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype used by both sides.
const CodecName = "rtps-raw"

func init() { encoding.RegisterCodec(rawCodec{}) }

// rawCodec passes byte slices through unchanged.
type rawCodec struct{}

func (rawCodec) Name() string { return CodecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *[]byte:
		return *m, nil
	case []byte:
		return m, nil
	default:
		return nil, errors.Newf("rtps-raw: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*[]byte)
	if !ok {
		return errors.Newf("rtps-raw: cannot unmarshal into %T", v)
	}
	*m = append((*m)[:0], data...)
	return nil
}
