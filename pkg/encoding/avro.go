package encoding

import (
	"bytes"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/pool"
	"github.com/ajitpratap0/stacksampler/pkg/sample"
)

// sampleSchema is one Avro record per sample. The batch header is repeated
// on every record so each record stands on its own once the container is
// split or loaded into a table.
const sampleSchema = `{
  "type": "record",
  "name": "Sample",
  "namespace": "io.stacksampler",
  "fields": [
    {"name": "host", "type": "string"},
    {"name": "pid", "type": "long"},
    {"name": "batch_start_ns", "type": "long"},
    {"name": "batch_end_ns", "type": "long"},
    {"name": "timestamp_ns", "type": "long"},
    {"name": "goroutine_id", "type": "long"},
    {"name": "state", "type": "string"},
    {"name": "truncated", "type": "boolean"},
    {"name": "labels", "type": {"type": "map", "values": "string"}},
    {"name": "values", "type": {"type": "array", "items": "long"}},
    {"name": "frames", "type": {"type": "array", "items": {
      "type": "record",
      "name": "Frame",
      "fields": [
        {"name": "function", "type": "string"},
        {"name": "file", "type": "string"},
        {"name": "line", "type": "long"}
      ]
    }}}
  ]
}`

// metaPrefix namespaces batch metadata keys in the OCF header.
const metaPrefix = "stacksampler."

type avroEncoder struct {
	codec *goavro.Codec
}

func newAvroEncoder() (*avroEncoder, error) {
	codec, err := goavro.NewCodec(sampleSchema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create avro codec")
	}
	return &avroEncoder{codec: codec}, nil
}

func (e *avroEncoder) Encode(b *Batch) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	meta := make(map[string][]byte, len(b.Meta))
	for k, v := range b.Meta {
		meta[metaPrefix+k] = []byte(v)
	}

	// Payloads are compressed as a whole by the exporter, so blocks are not.
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               buf,
		Codec:           e.codec,
		CompressionName: goavro.CompressionNullLabel,
		MetaData:        meta,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create avro writer")
	}

	natives := make([]interface{}, 0, len(b.Records))
	for i := range b.Records {
		natives = append(natives, recordToNative(b, &b.Records[i]))
	}
	if len(natives) > 0 {
		if err := w.Append(natives); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write avro records").
				WithDetail("records", len(natives))
		}
	}
	return pool.CopyBytes(buf), nil
}

// Decode reads an OCF container back into a batch. The header is taken from
// the first record; an empty container yields an empty batch.
func (e *avroEncoder) Decode(data []byte) (*Batch, error) {
	r, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid avro container")
	}

	b := &Batch{}
	for r.Scan() {
		native, err := r.Read()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read avro record")
		}
		m, ok := native.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "unexpected avro record shape")
		}
		if len(b.Records) == 0 {
			b.Host, _ = m["host"].(string)
			b.PID, _ = m["pid"].(int64)
			b.StartNanos, _ = m["batch_start_ns"].(int64)
			b.EndNanos, _ = m["batch_end_ns"].(int64)
		}
		b.Records = append(b.Records, nativeToRecord(m))
	}
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan avro container")
	}
	return b, nil
}

func (e *avroEncoder) Format() Format { return Avro }

func (e *avroEncoder) ContentType() string { return "application/avro" }

func recordToNative(b *Batch, r *Record) map[string]interface{} {
	labels := make(map[string]interface{}, len(r.Labels))
	for k, v := range r.Labels {
		labels[k] = v
	}
	values := make([]interface{}, len(r.Values))
	for i, v := range r.Values {
		values[i] = v
	}
	frames := make([]interface{}, len(r.Frames))
	for i, f := range r.Frames {
		frames[i] = map[string]interface{}{
			"function": f.Function,
			"file":     f.File,
			"line":     int64(f.Line),
		}
	}

	return map[string]interface{}{
		"host":           b.Host,
		"pid":            b.PID,
		"batch_start_ns": b.StartNanos,
		"batch_end_ns":   b.EndNanos,
		"timestamp_ns":   r.TimestampNanos,
		"goroutine_id":   r.GoroutineID,
		"state":          r.State,
		"truncated":      r.Truncated,
		"labels":         labels,
		"values":         values,
		"frames":         frames,
	}
}

func nativeToRecord(m map[string]interface{}) Record {
	var r Record
	r.TimestampNanos, _ = m["timestamp_ns"].(int64)
	r.GoroutineID, _ = m["goroutine_id"].(int64)
	r.State, _ = m["state"].(string)
	r.Truncated, _ = m["truncated"].(bool)

	if labels, ok := m["labels"].(map[string]interface{}); ok && len(labels) > 0 {
		r.Labels = make(map[string]string, len(labels))
		for k, v := range labels {
			r.Labels[k], _ = v.(string)
		}
	}
	if values, ok := m["values"].([]interface{}); ok {
		r.Values = make([]int64, 0, len(values))
		for _, v := range values {
			n, _ := v.(int64)
			r.Values = append(r.Values, n)
		}
	}
	if frames, ok := m["frames"].([]interface{}); ok {
		r.Frames = make([]sample.Frame, 0, len(frames))
		for _, f := range frames {
			fm, _ := f.(map[string]interface{})
			var fr sample.Frame
			fr.Function, _ = fm["function"].(string)
			fr.File, _ = fm["file"].(string)
			line, _ := fm["line"].(int64)
			fr.Line = int(line)
			r.Frames = append(r.Frames, fr)
		}
	}
	return r
}
