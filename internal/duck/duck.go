// Package duck lowers other applications' playback through pactl while the
// microphone is open, then restores it.
package duck

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// Runner executes pactl with args and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func Pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

type Ducker struct {
	run    Runner
	self   []string
	floor  int
	factor float64
	fade   time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	active bool
	saved  map[int]int

	sleep func(time.Duration)
}

// New returns a ducker that scales foreign streams by factor, never below
// floor percent, over the fade duration. Streams whose application.name is
// in self are left alone.
func New(run Runner, self []string, factor float64, floor int, fadeDur time.Duration, logger *slog.Logger) *Ducker {
	if run == nil {
		run = Pactl
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ducker{
		run:    run,
		self:   append([]string(nil), self...),
		floor:  min(max(floor, 0), maxVolume),
		factor: factor,
		fade:   fadeDur,
		log:    logger.With("component", "duck"),
		saved:  make(map[int]int),
		sleep:  time.Sleep,
	}
}

// Duck lowers every foreign stream. It is a no-op while already ducked.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)
	var fades []fade
	for _, in := range inputs {
		target := math.Round(float64(in.Volume) * d.factor)
		to := int(math.Min(math.Max(target, float64(d.floor)), maxVolume))

		d.saved[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.apply(ctx, fades); err != nil {
		return err
	}

	d.active = true
	d.log.Debug("Ducked streams", "count", len(fades))
	return nil
}

// Restore returns ducked streams to their saved volume. Streams that
// appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		if orig, ok := d.saved[in.ID]; ok {
			fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
		}
	}

	if err := d.apply(ctx, fades); err != nil {
		return err
	}

	d.saved = make(map[int]int)
	d.active = false
	d.log.Debug("Restored streams", "count", len(fades))
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	var foreign []sinkInput
	for _, in := range parseSinkInputs(string(out)) {
		if !d.isSelf(in.AppName) {
			foreign = append(foreign, in)
		}
	}
	return foreign, nil
}

func (d *Ducker) isSelf(app string) bool {
	for _, name := range d.self {
		if app == name {
			return true
		}
	}
	return false
}

// apply steps every stream linearly from its start to its target volume.
func (d *Ducker) apply(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const stepDur = 10 * time.Millisecond
	steps := max(int(d.fade/stepDur), 1)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			d.sleep(d.fade / time.Duration(steps))
		}
	}
	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), strconv.Itoa(percent)+"%"); err != nil {
		return fmt.Errorf("set volume of sink input %d: %w", id, err)
	}
	return nil
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	if len(blocks) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range blocks[1:] {
		head, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				_, rest, _ := strings.Cut(line, "=")
				in.AppName = strings.Trim(strings.TrimSpace(rest), `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}
