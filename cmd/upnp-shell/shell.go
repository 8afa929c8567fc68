package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/gorilla/websocket"

	"github.com/strefethen/upnp-control-go/internal/sink/feed"
)

type deviceInfo struct {
	URL          string `json:"url"`
	UDN          string `json:"udn"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
	LastError    string `json:"last_error"`
}

type deviceDetail struct {
	deviceInfo
	Services []struct {
		ServiceID      string `json:"service_id"`
		ServiceType    string `json:"service_type"`
		SubscriptionID string `json:"subscription_id"`
		Actions        []struct {
			Name string `json:"name"`
			In   []struct {
				Name string `json:"name"`
			} `json:"in"`
		} `json:"actions"`
		StateVariables []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"state_variables"`
	} `json:"services"`
}

type historyEntry struct {
	DeviceName string `json:"device_name"`
	ServiceID  string `json:"service_id"`
	Variable   string `json:"variable"`
	WireValue  string `json:"wire_value"`
	ChangedAt  string `json:"changed_at"`
}

// Shell executes one command line at a time against the API.
type Shell struct {
	client *apiClient
	out    io.Writer

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func newShell(client *apiClient, out io.Writer) *Shell {
	return &Shell{client: client, out: out}
}

// Execute runs one command line. It returns false when the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "devices", "ls":
		err = s.cmdDevices(ctx)
	case "add":
		err = s.cmdAdd(ctx, args)
	case "show":
		err = s.cmdShow(ctx, args)
	case "rm", "remove":
		err = s.cmdRemove(ctx, args)
	case "call":
		err = s.cmdCall(ctx, args)
	case "history", "h":
		err = s.cmdHistory(ctx, args)
	case "health":
		err = s.cmdHealth(ctx)
	case "watch":
		err = s.cmdWatch(ctx)
	case "unwatch":
		s.stopWatch()
	case "quit", "exit", "q":
		s.stopWatch()
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  devices                               - List managed devices
  add <description-url>                 - Add and connect a device
  show <udn|url>                        - Show services, actions and state
  rm <udn|url>                          - Unsubscribe and forget a device
  call <udn|url> <service> <action> [Name=Value ...]
                                        - Invoke an action (service: RC, AVT, type or ID)
  history [udn] [limit]                 - Recent state changes
  health                                - Server status
  watch / unwatch                       - Stream live state changes
  quit                                  - Exit`)
}

func (s *Shell) cmdDevices(ctx context.Context) error {
	var list struct {
		Data []deviceInfo `json:"data"`
	}
	if err := s.client.get(ctx, "/v1/devices", &list); err != nil {
		return err
	}
	if len(list.Data) == 0 {
		fmt.Fprintln(s.out, "No devices.")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tUDN\tURL")
	for _, d := range list.Data {
		name := d.FriendlyName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, d.Status, d.UDN, d.URL)
	}
	return tw.Flush()
}

func (s *Shell) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: add <description-url>")
	}
	var d deviceInfo
	if err := s.client.post(ctx, "/v1/devices", map[string]string{"url": args[0]}, &d); err != nil {
		return err
	}
	if d.Status != "CONNECTED" {
		fmt.Fprintf(s.out, "Added %s (%s: %s)\n", d.URL, d.Status, d.LastError)
		return nil
	}
	fmt.Fprintf(s.out, "Added %s (%s)\n", d.FriendlyName, d.UDN)
	return nil
}

func (s *Shell) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <udn|url>")
	}
	var d deviceDetail
	if err := s.client.get(ctx, devicePath(args[0]), &d); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s [%s]\n  udn: %s\n  url: %s\n", d.FriendlyName, d.Status, d.UDN, d.URL)
	for _, svc := range d.Services {
		fmt.Fprintf(s.out, "\n  %s", svc.ServiceID)
		if svc.SubscriptionID != "" {
			fmt.Fprintf(s.out, " (subscribed %s)", svc.SubscriptionID)
		}
		fmt.Fprintln(s.out)
		for _, action := range svc.Actions {
			names := make([]string, 0, len(action.In))
			for _, in := range action.In {
				names = append(names, in.Name)
			}
			fmt.Fprintf(s.out, "    %s(%s)\n", action.Name, strings.Join(names, ", "))
		}
		for _, sv := range svc.StateVariables {
			if sv.Value == nil {
				continue
			}
			fmt.Fprintf(s.out, "    %s = %v\n", sv.Name, sv.Value)
		}
	}
	return nil
}

func (s *Shell) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <udn|url>")
	}
	if err := s.client.delete(ctx, devicePath(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Removed %s\n", args[0])
	return nil
}

func (s *Shell) cmdCall(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: call <udn|url> <service> <action> [Name=Value ...]")
	}
	params := make(map[string]string, len(args)-3)
	for _, pair := range args[3:] {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return fmt.Errorf("argument %q is not Name=Value", pair)
		}
		params[name] = value
	}

	path := devicePath(args[0]) + "/services/" + url.PathEscape(args[1]) + "/actions/" + url.PathEscape(args[2])
	var result struct {
		Out map[string]any `json:"out"`
	}
	if err := s.client.post(ctx, path, map[string]any{"args": params}, &result); err != nil {
		return err
	}
	if len(result.Out) == 0 {
		fmt.Fprintln(s.out, "OK")
		return nil
	}
	names := make([]string, 0, len(result.Out))
	for name := range result.Out {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "%s = %v\n", name, result.Out[name])
	}
	return nil
}

func (s *Shell) cmdHistory(ctx context.Context, args []string) error {
	query := url.Values{}
	for _, arg := range args {
		if _, err := strconv.Atoi(arg); err == nil {
			query.Set("limit", arg)
		} else {
			query.Set("device", arg)
		}
	}
	path := "/v1/history"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var list struct {
		Data []historyEntry `json:"data"`
	}
	if err := s.client.get(ctx, path, &list); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, e := range list.Data {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ChangedAt, e.DeviceName, shortServiceID(e.ServiceID), e.Variable, e.WireValue)
	}
	return tw.Flush()
}

func (s *Shell) cmdHealth(ctx context.Context) error {
	var body map[string]any
	if err := s.client.get(ctx, "/v1/health", &body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

func (s *Shell) cmdWatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		return errors.New("already watching")
	}

	conn, err := s.client.dialFeed(ctx)
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.watchCancel = cancel
	s.watchDone = done

	go func() {
		<-watchCtx.Done()
		conn.Close()
	}()
	go func() {
		defer close(done)
		defer cancel()
		s.readFeed(conn)
		if watchCtx.Err() == nil {
			fmt.Fprintln(s.out, "Feed closed")
		}
		s.mu.Lock()
		if s.watchDone == done {
			s.watchCancel, s.watchDone = nil, nil
		}
		s.mu.Unlock()
	}()

	fmt.Fprintln(s.out, "Watching state changes (unwatch to stop)")
	return nil
}

func (s *Shell) readFeed(conn *websocket.Conn) {
	for {
		var msg feed.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		for _, c := range msg.Changes {
			fmt.Fprintf(s.out, "* %s %s %s = %s\n", c.DeviceName, shortServiceID(c.ServiceID), c.Variable, c.WireValue)
		}
	}
}

func (s *Shell) stopWatch() {
	s.mu.Lock()
	cancel, done := s.watchCancel, s.watchDone
	s.watchCancel, s.watchDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// shortServiceID trims "urn:upnp-org:serviceId:" style prefixes.
func shortServiceID(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}
