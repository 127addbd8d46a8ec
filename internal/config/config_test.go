package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 2*time.Minute, cfg.Allocation.Timeout)
	assert.Equal(t, 5, cfg.Allocation.MaxPasses)
	assert.Zero(t, cfg.Allocation.SchedulerInterval)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=sessionlottery sslmode=disable",
		cfg.Database.DSN())
}

func TestFromViper_Brokers(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{EnvKafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}))
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestFromViper_Invalid(t *testing.T) {
	cases := map[string]map[string]any{
		"zero passes":       {EnvAllocationMaxPasses: 0},
		"zero conns":        {EnvDBMaxConns: 0},
		"lease too short":   {EnvAllocationLease: "10s", EnvAllocationTimeout: "1m"},
		"non-positive time": {EnvAllocationTimeout: "0s"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fromViper(newViper(overrides))
			assert.Error(t, err)
		})
	}
}
