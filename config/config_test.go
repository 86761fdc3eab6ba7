package config_test

import (
	"os"
	"testing"

	"github.com/llnl/ygm/config"
	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/router"
)

func TestDefaultValues(t *testing.T) {
	o := config.Default()
	tassert.Fatal(t, o.BufferSizeBytes == 16<<20, "want 16MiB default buffer size")
	tassert.Fatal(t, o.NumIrecvs == 8, "want 8 default pre-posted receives")
	tassert.Fatal(t, o.Routing == router.None, "want None default routing")
	tassert.Fatal(t, !o.Welcome, "want Welcome off by default")
}

func TestFromEnvOverrides(t *testing.T) {
	for k, v := range map[string]string{
		"YGM_BUFFER_SIZE_KB":  "1024",
		"YGM_NUM_IRECVS":      "16",
		"YGM_ROUTING":         "NLNR",
		"YGM_FREQ_ISSEND":     "3",
		"YGM_WELCOME":         "true",
		"YGM_TRACE":           "true",
		"YGM_TRACE_PATH":      "/tmp/ygm-trace",
	} {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	o := config.FromEnv()
	tassert.Fatal(t, o.BufferSizeBytes == 1024*1024, "want 1MiB, got", o.BufferSizeBytes)
	tassert.Fatal(t, o.NumIrecvs == 16, "want 16 irecvs, got", o.NumIrecvs)
	tassert.Fatal(t, o.Routing == router.NLNR, "want NLNR routing, got", o.Routing)
	tassert.Fatal(t, o.FreqIssend == 3, "want freq_issend 3, got", o.FreqIssend)
	tassert.Fatal(t, o.Welcome, "want Welcome true")
	tassert.Fatal(t, o.Trace, "want Trace true")
	tassert.Fatal(t, o.TracePath == "/tmp/ygm-trace", "want trace path override")
}

func TestFromEnvLeavesDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("YGM_ROUTING")
	o := config.FromEnv()
	tassert.Fatal(t, o.Routing == router.None, "want default routing when env unset")
}
