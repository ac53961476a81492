package operator

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/kballard/go-shellquote"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/schedule"
)

// Coordinator is the set of session operations the verbs map onto.
// session.Coordinator implements it.
type Coordinator interface {
	Provision(ctx context.Context, reg device.Registry, guest, displayName, deviceType, status string) error
	Rename(ctx context.Context, reg device.Registry, displayName, newDisplayName string) error
	Delete(ctx context.Context, reg device.Registry, displayName string) error
	Sync(ctx context.Context, reg device.Registry, displayName string) error
	Ping(ctx context.Context, reg device.Registry, displayName string) error
	AskStatus(ctx context.Context, reg device.Registry, displayName string) error
	AskSchedule(ctx context.Context, reg device.Registry, displayName string) error
	ExecuteCommand(ctx context.Context, reg device.Registry, displayName, command string) error
	Schedule(ctx context.Context, reg device.Registry, displayName string, ev schedule.Event) error
	Unschedule(ctx context.Context, reg device.Registry, displayName string, ev schedule.Event) error
	ClearSchedule(ctx context.Context, reg device.Registry, displayName string) error
	DeviceList(ctx context.Context, reg device.Registry) ([]device.Profile, error)
	Guests() []string
	Info(ctx context.Context, reg device.Registry, displayName string) (*device.Profile, error)
	ScheduleOf(ctx context.Context, reg device.Registry, displayName string) ([]schedule.Event, error)
}

// verb is one operator command: its exact argument count and handler.
type verb struct {
	arity int
	run   func(ctx context.Context, reg device.Registry, args []string) error
}

// Handler parses operator lines and runs them against a Coordinator.
type Handler struct {
	coord Coordinator
	out   io.Writer
	diag  io.Writer
	verbs map[string]verb
}

// New creates a handler writing query answers to out and notes about
// skipped lines to diag.
func New(coord Coordinator, out, diag io.Writer) *Handler {
	if out == nil {
		out = io.Discard
	}
	if diag == nil {
		diag = io.Discard
	}
	h := &Handler{coord: coord, out: out, diag: diag}
	h.verbs = map[string]verb{
		"add":         {4, h.add},
		"rename":      {2, h.rename},
		"del":         {1, h.del},
		"sync":        {1, h.forDevice(coord.Sync)},
		"ping":        {1, h.forDevice(coord.Ping)},
		"askstatus":   {1, h.forDevice(coord.AskStatus)},
		"askschedule": {1, h.forDevice(coord.AskSchedule)},
		"clear":       {1, h.forDevice(coord.ClearSchedule)},
		"cmd":         {2, h.cmd},
		"timed":       {5, h.timed},
		"recurrent":   {7, h.recurrent},
		"devlist":     {0, h.devlist},
		"guestlist":   {0, h.guestlist},
		"info":        {1, h.info},
		"schedule":    {1, h.schedule},
	}
	return h
}

// Execute runs one operator line. Blank lines are ignored and unknown verbs
// are reported to diagnostics and skipped.
func (h *Handler) Execute(ctx context.Context, reg device.Registry, line string) error {
	tokens, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if len(tokens) == 0 {
		return nil
	}

	name, args := tokens[0], tokens[1:]
	v, ok := h.verbs[name]
	if !ok {
		fmt.Fprintln(h.diag, unrecognizedMessage) //nolint:errcheck // diagnostics are best effort
		return nil
	}
	if len(args) != v.arity {
		return fmt.Errorf("%w: wrong number of arguments for %q, expected %d but got %d",
			ErrUsage, name, v.arity, len(args))
	}
	return v.run(ctx, reg, args)
}

func (h *Handler) forDevice(op func(context.Context, device.Registry, string) error) func(context.Context, device.Registry, []string) error {
	return func(ctx context.Context, reg device.Registry, args []string) error {
		return op(ctx, reg, args[0])
	}
}

func (h *Handler) add(ctx context.Context, reg device.Registry, args []string) error {
	return h.coord.Provision(ctx, reg, args[0], args[1], args[2], args[3])
}

func (h *Handler) rename(ctx context.Context, reg device.Registry, args []string) error {
	return h.coord.Rename(ctx, reg, args[0], args[1])
}

func (h *Handler) del(ctx context.Context, reg device.Registry, args []string) error {
	return h.coord.Delete(ctx, reg, args[0])
}

func (h *Handler) cmd(ctx context.Context, reg device.Registry, args []string) error {
	return h.coord.ExecuteCommand(ctx, reg, args[0], args[1])
}

// timed (add|del) <display> <epoch> (exact|fuzzy) <command>
func (h *Handler) timed(ctx context.Context, reg device.Registry, args []string) error {
	fuzzy, err := parsePrecision(args[3])
	if err != nil {
		return err
	}
	fireAt, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: fire time %q is not an integer", ErrUsage, args[2])
	}
	ev, err := schedule.NewTimed(args[4], fuzzy, fireAt)
	if err != nil {
		return err
	}
	return h.editSchedule(ctx, reg, args[0], args[1], ev)
}

// recurrent (add|del) <display> <weekday> <hours> <minutes> (exact|fuzzy) <command>
func (h *Handler) recurrent(ctx context.Context, reg device.Registry, args []string) error {
	fuzzy, err := parsePrecision(args[5])
	if err != nil {
		return err
	}
	nums := make([]int, 3)
	for i, field := range args[2:5] {
		n, err := strconv.Atoi(field)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrUsage, field)
		}
		nums[i] = n
	}
	ev, err := schedule.NewRecurrent(args[6], fuzzy, nums[0], nums[1], nums[2])
	if err != nil {
		return err
	}
	return h.editSchedule(ctx, reg, args[0], args[1], ev)
}

func (h *Handler) editSchedule(ctx context.Context, reg device.Registry, op, displayName string, ev schedule.Event) error {
	switch op {
	case "add":
		return h.coord.Schedule(ctx, reg, displayName, ev)
	case "del":
		return h.coord.Unschedule(ctx, reg, displayName, ev)
	}
	return fmt.Errorf("%w: expected 'add' or 'del' but found %q", ErrUsage, op)
}

func parsePrecision(word string) (bool, error) {
	switch word {
	case "exact":
		return false, nil
	case "fuzzy":
		return true, nil
	}
	return false, fmt.Errorf("%w: expected 'exact' or 'fuzzy' but found %q", ErrUsage, word)
}

// devlist prints '+name' for connected devices and '-name' for the rest.
func (h *Handler) devlist(ctx context.Context, reg device.Registry, _ []string) error {
	devices, err := h.coord.DeviceList(ctx, reg)
	if err != nil {
		return err
	}
	words := make([]string, 0, len(devices))
	for _, d := range devices {
		words = append(words, shellescape.Quote(connSign(d.Connected)+d.DisplayName))
	}
	return h.println(strings.Join(words, " "))
}

func (h *Handler) guestlist(_ context.Context, _ device.Registry, _ []string) error {
	guests := h.coord.Guests()
	words := make([]string, 0, len(guests))
	for _, g := range guests {
		words = append(words, shellescape.Quote(g))
	}
	return h.println(strings.Join(words, " "))
}

// info prints "<+|-><type> <status>".
func (h *Handler) info(ctx context.Context, reg device.Registry, args []string) error {
	p, err := h.coord.Info(ctx, reg, args[0])
	if err != nil {
		return err
	}
	return h.println(shellescape.Quote(connSign(p.Connected)+p.Type) + " " + shellescape.Quote(p.Status))
}

// schedule prints one event per line and a terminating blank line.
func (h *Handler) schedule(ctx context.Context, reg device.Registry, args []string) error {
	events, err := h.coord.ScheduleOf(ctx, reg, args[0])
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.String())
		b.WriteByte('\n')
	}
	return h.println(b.String())
}

func (h *Handler) println(s string) error {
	if _, err := fmt.Fprintln(h.out, s); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func connSign(connected bool) string {
	if connected {
		return "+"
	}
	return "-"
}
