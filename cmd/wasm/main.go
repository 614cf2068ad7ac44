//go:build js && wasm
// +build js,wasm

package main

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorUnsupportedFormat
	ErrorNoRecords
)

var engines = map[models.Strategy]*acousticprint.Engine{}

func engineFor(strategy models.Strategy) (*acousticprint.Engine, error) {
	if e, ok := engines[strategy]; ok {
		return e, nil
	}
	// the browser has a single thread, so one worker avoids useless scheduling
	e, err := acousticprint.New(
		acousticprint.WithStrategy(strategy),
		acousticprint.WithMode(models.ModeBatch),
		acousticprint.WithWorkers(1),
		acousticprint.WithLogger(logger.GetLogger()),
	)
	if err != nil {
		return nil, err
	}
	engines[strategy] = e
	return e, nil
}

// Processes interleaved float samples in [-1, 1] and returns fingerprint records.
// Returns: {error: number, data: array | string, digest: string}
func generateFingerprint(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected arguments: audioArray, sampleRate, channels[, strategy]")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	strategy := models.StrategyLandmark
	if len(args) > 3 && args[3].Type() == js.TypeString {
		strategy = models.Strategy(args[3].String())
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid channel count: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = val.Float()
	}

	engine, err := engineFor(strategy)
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, models.Describe(err))
	}

	format := models.Format{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   32,
		Encoding:   models.EncodingFloat,
	}
	stream := audio.FromInterleaved(samples, format, engine.Config().BlockFrames)

	col := storage.NewCollector(0)
	sum, err := engine.FingerprintBlocks(context.Background(), stream, col)
	if err != nil {
		var unsupported *models.UnsupportedFormat
		if errors.As(err, &unsupported) {
			return makeErrorResponse(ErrorUnsupportedFormat, err.Error())
		}
		return makeErrorResponse(ErrorProcessing, err.Error())
	}
	if len(col.Records) == 0 {
		return makeErrorResponse(ErrorNoRecords, "No fingerprint records generated (audio may be silent or too short)")
	}

	recordArray := js.Global().Get("Array").New()
	for i, rec := range col.Records {
		recObj := js.Global().Get("Object").New()
		recObj.Set("hash", rec.Key())
		recObj.Set("time", rec.Time)
		recordArray.SetIndex(i, recObj)
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", recordArray)
	result.Set("digest", fmt.Sprintf("%016x", sum.OutputDigest))
	result.Set("frames", sum.Frames)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	if !console.IsUndefined() {
		console.Call("log", "🔧 acousticprint WASM module initializing...")
	}

	done := make(chan struct{})

	js.Global().Set("generateFingerprint", js.FuncOf(generateFingerprint))

	if !console.IsUndefined() {
		console.Call("log", "📝 generateFingerprint function registered")
	}

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
		if !console.IsUndefined() {
			console.Call("log", "✅ wasmReady event dispatched")
		}
	} else if !console.IsUndefined() {
		console.Call("error", "❌ window object is undefined!")
	}

	<-done
}
