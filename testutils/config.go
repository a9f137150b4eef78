package testutils

import (
	"os"
	"strings"
	"testing"
)

type Config struct {
	// EtcdEndpoints enables the tests which need a running etcd.
	EtcdEndpoints []string
	// Seeds of a real cluster to run the live tend tests against.
	Seeds string
	User  string
	Pass  string
}

var globalTestConfig *Config

func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{}

		envEtcd := os.Getenv("STKTEST_ETCD_ENDPOINTS")
		if envEtcd != "" {
			testConfig.EtcdEndpoints = strings.Split(envEtcd, ",")
		}

		testConfig.Seeds = os.Getenv("STKTEST_SEEDS")
		testConfig.User = os.Getenv("STKTEST_USER")
		testConfig.Pass = os.Getenv("STKTEST_PASS")

		t.Logf("initialized test configuration")
		t.Logf("  etcd endpoints: %v", testConfig.EtcdEndpoints)
		t.Logf("  seeds: %s", testConfig.Seeds)
		t.Logf("  user: %s", testConfig.User)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}

func SkipIfNoEtcd(t *testing.T) *Config {
	config := GetTestConfig(t)
	if len(config.EtcdEndpoints) == 0 {
		t.Skip("skipping due to no etcd endpoints")
	}
	return config
}

func SkipIfNoLiveCluster(t *testing.T) *Config {
	config := GetTestConfig(t)
	if config.Seeds == "" {
		t.Skip("skipping due to no live cluster seeds")
	}
	return config
}
