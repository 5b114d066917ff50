package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/plakat/constants"
)

func TestSetupLogTo(t *testing.T) {
	var buf bytes.Buffer
	SetupLogTo(&buf, "plakat-test", true)
	defer SetupLog("plakat-test", false)

	WithFuncName().WithField("pinID", "abc").Debug("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "plakat-test", entry["service"])
	assert.Equal(t, "abc", entry["pinID"])
	assert.Equal(t, "logging.TestSetupLogTo", entry[cst.LogFieldFuncName])
	assert.Contains(t, entry, "epochTimeMillis")
	assert.NotContains(t, entry, "time")
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}
