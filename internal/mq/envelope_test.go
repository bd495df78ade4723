package mq

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "simwatch/pkg/errors"
)

func testEnvelope(t *testing.T, encoding string, body []byte) *Envelope {
	t.Helper()
	props := RawProperties(PropertiesConfig{
		Type:            TypeJobStart,
		MessageID:       "7a3c1f52-8f0c-4a36-9d55-4df5b1d7a001",
		ContentEncoding: encoding,
		Headers:         map[string]interface{}{"producer_id": "libigcm", "centre": "ipsl"},
	})
	return NewEnvelope(props, body, 42)
}

func TestEnvelope_Decode(t *testing.T) {
	payload := []byte(`{"simuid":"s1","job_warning_delay":3600}`)

	tests := []struct {
		name     string
		encoding string
		body     []byte
		want     map[string]interface{}
		wantErr  bool
	}{
		{"utf8", EncodingUTF8, payload, map[string]interface{}{"simuid": "s1", "job_warning_delay": json.Number("3600")}, false},
		{"base64", EncodingBase64, []byte(base64.StdEncoding.EncodeToString(payload)), map[string]interface{}{"simuid": "s1", "job_warning_delay": json.Number("3600")}, false},
		{"empty", EncodingUTF8, nil, map[string]interface{}{}, false},
		{"malformed json", EncodingUTF8, []byte(`{"simuid":`), nil, true},
		{"bad base64", EncodingBase64, []byte("%%%"), nil, true},
		{"not an object", EncodingUTF8, []byte(`[1,2]`), nil, true},
		{"trailing garbage", EncodingUTF8, []byte(`{"jobuid":"J1"} not-json`), nil, true},
		{"two objects", EncodingUTF8, []byte(`{"jobuid":"J1"}{"jobuid":"J2"}`), nil, true},
		{"trailing whitespace", EncodingUTF8, []byte("{\"jobuid\":\"J1\"}\n  "), map[string]interface{}{"jobuid": "J1"}, false},
		{"base64 trailing garbage", EncodingBase64, []byte(base64.StdEncoding.EncodeToString([]byte(`{"a":1} x`))), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope(t, tt.encoding, tt.body)
			assert.False(t, env.Decoded())

			got, err := env.Decode()
			assert.True(t, env.Decoded())
			if tt.wantErr {
				require.Error(t, err)
				var decErr *DecodeError
				assert.ErrorAs(t, err, &decErr)
				assert.True(t, pkgerrors.IsDecode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelope_DecodeIsIdempotent(t *testing.T) {
	env := testEnvelope(t, EncodingUTF8, []byte(`{"a":"b"}`))

	first, err := env.Decode()
	require.NoError(t, err)
	first["mutated"] = true

	second, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, true, second["mutated"], "second call must return the memoized map")
	assert.Equal(t, []byte(`{"a":"b"}`), env.Content(), "raw content is untouched")

	bad := testEnvelope(t, EncodingUTF8, []byte("nope"))
	_, err1 := bad.Decode()
	_, err2 := bad.Decode()
	assert.Same(t, err1, err2)
}

func TestEnvelope_Field(t *testing.T) {
	env := testEnvelope(t, EncodingUTF8, []byte(`{"centre":"tgcc","login":"u42"}`))

	assert.Equal(t, "ipsl", env.Field("centre", "x"), "headers only before decode")
	assert.Equal(t, "fallback", env.Field("login", "fallback"))

	_, err := env.Decode()
	require.NoError(t, err)

	assert.Equal(t, "tgcc", env.Field("centre", "x"), "decoded content wins over headers")
	assert.Equal(t, "u42", env.StringField("login", ""))
	assert.Equal(t, "libigcm", env.StringField("producer_id", ""))
	assert.Equal(t, "d", env.StringField("missing", "d"))
}

func TestEnvelope_DecodeInto(t *testing.T) {
	env := testEnvelope(t, EncodingUTF8, []byte(`{"simuid":"s1","job_warning_delay":3600}`))

	var out struct {
		SimUID string `json:"simuid"`
		Delay  int    `json:"job_warning_delay"`
	}
	require.NoError(t, env.DecodeInto(&out))
	assert.Equal(t, "s1", out.SimUID)
	assert.Equal(t, 3600, out.Delay)
	assert.Equal(t, uint64(42), env.DeliveryTag())
	assert.Equal(t, TypeJobStart, env.Type())
}
