package log

import "go.uber.org/zap/zapcore"

type contextFields struct {
	id     string
	fields []zapcore.Field
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c contextFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.id)
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	return nil
}
