//go:build linux

package transport

import (
	"context"
	"path"

	"github.com/arloliu/go-cnc/logger"
	"github.com/pilebones/go-udev/netlink"
)

// Watch reports tty devices being attached or detached until ctx is done.
// fn runs on the watch goroutine. Watch returns after the netlink socket was opened.
func Watch(ctx context.Context, l logger.Logger, fn func(PortEvent)) error {
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("component", "port-watch")

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return err
	}

	go watchLoop(ctx, conn, l, fn)

	return nil
}

func watchLoop(ctx context.Context, conn *netlink.UEventConn, l logger.Logger, fn func(PortEvent)) {
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, ttyMatcher())

	for {
		select {
		case <-ctx.Done():
			close(quit)
			return
		case ev := <-queue:
			if pe, ok := toPortEvent(ev); ok {
				l.Debug("port event", "action", pe.Action.String(), "port", pe.Port)
				fn(pe)
			}
		case err := <-errs:
			l.Warn("port watch error", "error", err)
		}
	}
}

func ttyMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})

	return rules
}

func toPortEvent(ev netlink.UEvent) (PortEvent, bool) {
	name := ev.Env["DEVNAME"]
	if name == "" {
		name = path.Base(ev.KObj)
	}
	if !IsCandidatePort(name) {
		return PortEvent{}, false
	}
	if path.Dir(name) == "." {
		name = "/dev/" + name
	}

	switch ev.Action {
	case netlink.ADD:
		return PortEvent{Action: PortAdded, Port: name}, true
	case netlink.REMOVE:
		return PortEvent{Action: PortRemoved, Port: name}, true
	default:
		return PortEvent{}, false
	}
}
