package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields_Order(t *testing.T) {
	ctx := context.Background()
	ctx = WithServiceName(ctx, "simwatch-mq")
	ctx = WithAgent(ctx, "monitoring")
	ctx = WithMessageID(ctx, "m-1")
	ctx = WithMessageType(ctx, "1000")
	ctx = WithTraceID(ctx, "t-1")

	assert.Equal(t, []interface{}{
		"trace_id", "t-1",
		"message_id", "m-1",
		"message_type", "1000",
		"agent", "monitoring",
		"service_name", "simwatch-mq",
	}, GetLogFields(ctx))
}

func TestGetLogFields_SkipsEmpty(t *testing.T) {
	ctx := WithMessageID(context.Background(), "")
	assert.Empty(t, GetLogFields(ctx))
	assert.Equal(t, "", GetMessageID(ctx))
}

func TestEarlyLog_Fatal(t *testing.T) {
	var out, errOut bytes.Buffer
	code := -1
	l := &EarlyLog{prefix: "simwatch-mq", out: &out, err: &errOut, exit: func(c int) { code = c }}

	l.Info("loading %s", "config.yaml")
	l.Fatal("bad config: %v", "missing queue")

	assert.Equal(t, "simwatch-mq INFO: loading config.yaml\n", out.String())
	assert.Equal(t, "simwatch-mq FATAL: bad config: missing queue\n", errOut.String())
	assert.Equal(t, 1, code)
}
