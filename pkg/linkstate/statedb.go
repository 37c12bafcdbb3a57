package linkstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/hwagent/pkg/util"
)

const (
	// StateDB is the Redis database number of STATE_DB.
	StateDB = 6
	// ConfigDB is the Redis database number of CONFIG_DB.
	ConfigDB = 4
)

// StateDBSource reads link state from a SONiC switch: port oper status from
// STATE_DB PORT_TABLE, aggregate membership from LAG_MEMBER_TABLE and the
// minimum link count from CONFIG_DB PORTCHANNEL. Lookup failures are logged
// and read as down.
type StateDBSource struct {
	state  *redis.Client
	config *redis.Client
	ctx    context.Context
}

// NewStateDBSource creates a source for the Redis server at addr.
func NewStateDBSource(addr string) *StateDBSource {
	return NewStateDBSourceFromRedis(
		redis.NewClient(&redis.Options{Addr: addr, DB: StateDB}),
		redis.NewClient(&redis.Options{Addr: addr, DB: ConfigDB}),
	)
}

// NewStateDBSourceFromRedis wraps clients already pointed at STATE_DB and
// CONFIG_DB.
func NewStateDBSourceFromRedis(stateDB, configDB *redis.Client) *StateDBSource {
	return &StateDBSource{
		state:  stateDB,
		config: configDB,
		ctx:    context.Background(),
	}
}

// Connect tests both connections.
func (s *StateDBSource) Connect() error {
	if err := s.state.Ping(s.ctx).Err(); err != nil {
		return fmt.Errorf("state_db ping: %w", err)
	}
	if err := s.config.Ping(s.ctx).Err(); err != nil {
		return fmt.Errorf("config_db ping: %w", err)
	}
	return nil
}

// Close closes both connections.
func (s *StateDBSource) Close() error {
	serr := s.state.Close()
	cerr := s.config.Close()
	if serr != nil {
		return serr
	}
	return cerr
}

func (s *StateDBSource) PortOperUp(port string) bool {
	status, err := s.state.HGet(s.ctx, "PORT_TABLE|"+port, "oper_status").Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		util.WithField("port", port).Warnf("reading oper_status: %v", err)
		return false
	}
	return status == "up"
}

func (s *StateDBSource) LagMinLinksMet(lag string) bool {
	members, err := s.lagMembers(lag)
	if err != nil {
		util.WithField("lag", lag).Warnf("reading members: %v", err)
		return false
	}
	up := 0
	for _, m := range members {
		status, err := s.state.HGet(s.ctx, fmt.Sprintf("LAG_MEMBER_TABLE|%s|%s", lag, m), "oper_status").Result()
		if err != nil && err != redis.Nil {
			util.WithField("lag", lag).Warnf("reading member %s: %v", m, err)
			continue
		}
		if status == "up" && s.PortOperUp(m) {
			up++
		}
	}
	return up >= s.minLinks(lag)
}

// lagMembers lists the member ports recorded in LAG_MEMBER_TABLE.
func (s *StateDBSource) lagMembers(lag string) ([]string, error) {
	prefix := fmt.Sprintf("LAG_MEMBER_TABLE|%s|", lag)
	var members []string
	var cursor uint64
	for {
		keys, next, err := s.state.Scan(s.ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			members = append(members, strings.TrimPrefix(k, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return members, nil
}

// minLinks returns the configured min_links of an aggregate, at least 1.
func (s *StateDBSource) minLinks(lag string) int {
	v, err := s.config.HGet(s.ctx, "PORTCHANNEL|"+lag, "min_links").Result()
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
