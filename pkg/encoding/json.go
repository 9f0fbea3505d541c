package encoding

import (
	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/pool"
)

type jsonEncoder struct{}

func (e *jsonEncoder) Encode(b *Batch) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode batch as json").
			WithDetail("records", b.Len())
	}
	return pool.CopyBytes(buf), nil
}

func (e *jsonEncoder) Decode(data []byte) (*Batch, error) {
	var b Batch
	if err := gojson.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode json batch")
	}
	return &b, nil
}

func (e *jsonEncoder) Format() Format { return JSON }

func (e *jsonEncoder) ContentType() string { return "application/json" }
