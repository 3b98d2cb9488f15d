package config

import (
	"fmt"
	"net"
	"strings"
)

// redisAddrs holds the host:port addresses of the redis instances sharing
// the block versions. On the command line they are comma separated, in the
// yaml configuration they are a sequence.
type redisAddrs []string

func parseRedisAddr(s string) (string, error) {
	a := strings.TrimSpace(s)
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return "", fmt.Errorf("invalid redis address %q: %w", s, err)
	}

	if host == "" || port == "" {
		return "", fmt.Errorf("invalid redis address %q: host and port required", s)
	}

	return a, nil
}

func (r *redisAddrs) set(values []string) error {
	addrs := make(redisAddrs, 0, len(values))
	for _, v := range values {
		a, err := parseRedisAddr(v)
		if err != nil {
			return err
		}

		addrs = append(addrs, a)
	}

	*r = addrs
	return nil
}

func (r *redisAddrs) Set(value string) error {
	if strings.TrimSpace(value) == "" {
		*r = nil
		return nil
	}

	return r.set(strings.Split(value, ","))
}

func (r *redisAddrs) UnmarshalYAML(unmarshal func(any) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	return r.set(values)
}

func (r *redisAddrs) String() string {
	if r == nil {
		return ""
	}

	return strings.Join(*r, ",")
}
