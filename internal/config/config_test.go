package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"redisd/internal/config"
)

func TestGetKnownFields(t *testing.T) {
	c := config.New("/data", "snap.rdb")
	require.Equal(t, "/data", c.Get("dir"))
	require.Equal(t, "snap.rdb", c.Get("dbfilename"))
}

func TestGetIsCaseInsensitive(t *testing.T) {
	c := config.New("/data", "snap.rdb")
	require.Equal(t, "/data", c.Get("DIR"))
}

func TestGetUnknownFieldIsEmpty(t *testing.T) {
	c := config.New("/data", "snap.rdb")
	require.Equal(t, "", c.Get("maxmemory"))
}

func TestDefaultsAppliedWhenEmpty(t *testing.T) {
	c := config.New("", "")
	require.NotEmpty(t, c.Get("dir"))
	require.NotEmpty(t, c.Get("dbfilename"))
}
