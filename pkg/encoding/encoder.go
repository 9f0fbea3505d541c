package encoding

import (
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// Format names an encoding. It doubles as the object name extension.
type Format string

const (
	JSON Format = "json"
	Avro Format = "avro"
)

// Encoder turns a batch into bytes and back. Implementations are safe for
// concurrent use.
type Encoder interface {
	Encode(b *Batch) ([]byte, error)
	Decode(data []byte) (*Batch, error)
	Format() Format
	ContentType() string
}

// NewEncoder returns the encoder for format.
func NewEncoder(format Format) (Encoder, error) {
	switch format {
	case JSON, "":
		return &jsonEncoder{}, nil
	case Avro:
		return newAvroEncoder()
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "unsupported encoding format: %s", format)
	}
}
