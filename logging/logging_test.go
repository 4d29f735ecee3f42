package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want logrus.Level
	}{
		{"notset", logrus.DebugLevel},
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"critical", logrus.FatalLevel},
		{"trace", logrus.TraceLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestNewInfoPrintsMessageOnly(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", &buf)

	log.Debug("hidden")
	log.Info("copied 3 objects")

	assert.Equal(t, "copied 3 objects\n", buf.String())
}

func TestNewInfoFieldsInKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", &buf)

	for i := 0; i < 5; i++ {
		log.WithFields(logrus.Fields{"zone": "b", "bucket": "logs", "key": "a.csv"}).Info("copied")
	}

	want := strings.Repeat("copied bucket=logs key=a.csv zone=b\n", 5)
	assert.Equal(t, want, buf.String())
}

func TestNewDebugIncludesLevelAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", &buf)

	log.Debug("looking up credentials")

	out := buf.String()
	assert.Contains(t, out, "level=debug")
	assert.Contains(t, out, "looking up credentials")
	assert.Contains(t, out, "TestNewDebugIncludesLevelAndCaller")
}

func TestErrorLevelFiltersWarnings(t *testing.T) {
	var buf bytes.Buffer
	log := New("error", &buf)

	log.Warn("missing env")
	assert.Empty(t, buf.String())

	log.Error("failed")
	assert.Equal(t, "failed\n", buf.String())
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	log := Discard()
	assert.Same(t, log, OrDiscard(log))
}
