// Package tts speaks text through espeak-ng.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
espeak_init(const char *voice, int rate)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	espeak_VOICE specs;
	memset(&specs, 0, sizeof(specs));
	specs.languages = voice;
	if (espeak_SetVoiceByProperties(&specs) != EE_OK)
	{ return -2; }

	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	return 0;
}

static int
espeak_say(const char *text)
{
	if (!text)
	{ return -1; }

	size_t size = strlen(text) + 1;
	if (espeak_Synth(text, size, 0, POS_CHARACTER, 0, espeakCHARS_UTF8, NULL, NULL) != EE_OK)
	{ return -2; }

	return espeak_Synchronize() == EE_OK ? 0 : -3;
}
*/
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"
)

// Espeak is a blocking speech engine. Only one utterance plays at a time;
// cancelling the context of Say interrupts it.
type Espeak struct {
	mu  sync.Mutex
	log *slog.Logger
}

// NewEspeak initializes the library for voice (a language code such as
// "ko") at rate words per minute, or the library default when rate is 0.
func NewEspeak(voice string, rate int, logger *slog.Logger) (*Espeak, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	if rc := C.espeak_init(cvoice, C.int(rate)); rc != 0 {
		return nil, fmt.Errorf("espeak init failed: %d", int(rc))
	}

	return &Espeak{log: logger.With("component", "espeak")}, nil
}

func (e *Espeak) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	stop := context.AfterFunc(ctx, func() {
		C.espeak_Cancel()
	})
	defer stop()

	rc := C.espeak_say(ctext)
	if err := ctx.Err(); err != nil {
		e.log.Debug("Utterance cancelled")
		return err
	}
	if rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	C.espeak_Terminate()
}
