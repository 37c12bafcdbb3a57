package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"golang.org/x/term"

	"github.com/newtron-network/hwagent/pkg/agent"
	"github.com/newtron-network/hwagent/pkg/audit"
	"github.com/newtron-network/hwagent/pkg/config"
	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/hw/asicdb"
	"github.com/newtron-network/hwagent/pkg/linkstate"
	"github.com/newtron-network/hwagent/pkg/util"
)

// backend is an opened hardware API with its link source.
type backend struct {
	api      hw.API
	links    linkstate.Source
	switchID hw.ObjectID
	closers  []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// static reports whether links follow the applied deltas rather than the
// switch.
func (b *backend) static() bool {
	_, ok := b.links.(*linkstate.Static)
	return ok
}

func openBackend(c *config.Config) (*backend, error) {
	switch c.Backend {
	case config.BackendSim:
		links := linkstate.NewStatic()
		for _, l := range c.Lags {
			links.SetLag(l.Name, l.MinLinks, l.Members...)
		}
		return &backend{
			api:      hw.NewMemoryAPI(),
			links:    links,
			switchID: hw.ObjectID(c.SwitchID),
		}, nil
	case config.BackendAsicDB:
		return openAsicDB(c)
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func openAsicDB(c *config.Config) (*backend, error) {
	b := &backend{}
	addr := c.Redis.Addr

	if c.SSH.Host != "" {
		password := c.SSH.Password
		if password == "" {
			var err error
			if password, err = promptPassword(fmt.Sprintf("%s@%s's password: ", c.SSH.User, c.SSH.Host)); err != nil {
				return nil, err
			}
		}
		tunnel, err := asicdb.OpenTunnel(asicdb.TunnelConfig{
			Host:           c.SSH.Host,
			Port:           c.SSH.Port,
			User:           c.SSH.User,
			Password:       password,
			KnownHostsFile: c.SSH.KnownHostsFile,
			RemoteAddr:     c.Redis.Addr,
		})
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel to %s: %w", c.SSH.Host, err)
		}
		b.closers = append(b.closers, tunnel.Close)
		addr = tunnel.LocalAddr()
		util.WithField("local", addr).Debugf("tunnel to %s open", c.SSH.Host)
	}

	client := asicdb.NewClient(addr, c.Redis.AsicDB)
	if err := client.Connect(); err != nil {
		b.Close()
		return nil, fmt.Errorf("connecting to ASIC_DB: %w", err)
	}
	b.closers = append(b.closers, client.Close)

	links := linkstate.NewStateDBSource(addr)
	if err := links.Connect(); err != nil {
		b.Close()
		return nil, fmt.Errorf("connecting to STATE_DB: %w", err)
	}
	b.closers = append(b.closers, links.Close)

	b.api = client
	b.links = links
	b.switchID = client.SwitchID()
	return b, nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("ssh password required: set ssh.password or run from a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// openAuditLog returns the configured audit log, or nil when none is.
func openAuditLog(c *config.Config) (*audit.FileLogger, error) {
	if c.Audit.Path == "" {
		return nil, nil
	}
	return audit.NewFileLogger(c.Audit.Path, audit.RotationConfig{
		MaxSize:    c.Audit.MaxSize,
		MaxBackups: c.Audit.MaxBackups,
	})
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// session is an agent over an opened backend.
type session struct {
	*agent.Agent
	backend *backend
	audit   *audit.FileLogger
}

func newSession(c *config.Config) (*session, error) {
	b, err := openBackend(c)
	if err != nil {
		return nil, err
	}
	auditLog, err := openAuditLog(c)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	opts := agent.Options{
		SwitchID:             b.switchID,
		Links:                b.links,
		StaticL2ForNeighbors: c.StaticL2ForNeighbors,
		StatePath:            c.StateFile,
		User:                 currentUser(),
	}
	if auditLog != nil {
		opts.Audit = auditLog
	}
	return &session{
		Agent:   agent.New(b.api, opts),
		backend: b,
		audit:   auditLog,
	}, nil
}

func (s *session) Close() error {
	errs := []error{s.Agent.Close()}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	errs = append(errs, s.backend.Close())
	return errors.Join(errs...)
}
