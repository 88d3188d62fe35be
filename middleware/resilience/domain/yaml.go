package domain

// Decodificação YAML das políticas. O yaml.v3 não entende "500ms"/"2s" em
// time.Duration, então cada sub-política com duração ganha um UnmarshalYAML
// que passa por um espelho com yamlDuration.

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDuration aceita "500ms"/"2s"/"1m" ou número puro (segundos).
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = yamlDuration(v)
		return nil
	}

	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = yamlDuration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (p *RateLimitPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Capacity   int          `yaml:"capacity"`
		RefillRate float64      `yaml:"refillRate"`
		Cost       int          `yaml:"cost"`
		TTL        yamlDuration `yaml:"ttl"`
		FailOpen   bool         `yaml:"failOpen"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = RateLimitPolicy{
		Capacity:   raw.Capacity,
		RefillRate: raw.RefillRate,
		Cost:       raw.Cost,
		TTL:        time.Duration(raw.TTL),
		FailOpen:   raw.FailOpen,
	}
	return nil
}

func (p *BulkheadPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxConcurrent int          `yaml:"maxConcurrent"`
		QueueCapacity int          `yaml:"queueCapacity"`
		QueueWait     yamlDuration `yaml:"queueWait"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = BulkheadPolicy{
		MaxConcurrent: raw.MaxConcurrent,
		QueueCapacity: raw.QueueCapacity,
		QueueWait:     time.Duration(raw.QueueWait),
	}
	return nil
}

func (p *BreakerPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		FailureThreshold     int          `yaml:"failureThreshold"`
		FailureRateThreshold float64      `yaml:"failureRateThreshold"`
		SlowCallThreshold    yamlDuration `yaml:"slowCallThreshold"`
		ResetTimeout         yamlDuration `yaml:"resetTimeout"`
		HalfOpenProbes       int          `yaml:"halfOpenProbes"`
		SuccessToClose       int          `yaml:"successToClose"`
		SlidingWindowSize    int          `yaml:"slidingWindowSize"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = BreakerPolicy{
		FailureThreshold:     raw.FailureThreshold,
		FailureRateThreshold: raw.FailureRateThreshold,
		SlowCallThreshold:    time.Duration(raw.SlowCallThreshold),
		ResetTimeout:         time.Duration(raw.ResetTimeout),
		HalfOpenProbes:       raw.HalfOpenProbes,
		SuccessToClose:       raw.SuccessToClose,
		SlidingWindowSize:    raw.SlidingWindowSize,
	}
	return nil
}

func (p *TimeoutPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		PerAttempt yamlDuration `yaml:"perAttempt"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = TimeoutPolicy{PerAttempt: time.Duration(raw.PerAttempt)}
	return nil
}

func (p *RetryPolicy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxAttempts int          `yaml:"maxAttempts"`
		BaseBackoff yamlDuration `yaml:"baseBackoff"`
		MaxBackoff  yamlDuration `yaml:"maxBackoff"`
		Jitter      float64      `yaml:"jitter"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = RetryPolicy{
		MaxAttempts: raw.MaxAttempts,
		BaseBackoff: time.Duration(raw.BaseBackoff),
		MaxBackoff:  time.Duration(raw.MaxBackoff),
		Jitter:      raw.Jitter,
	}
	return nil
}
