package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eligwz/spectrogram"

	"github.com/avshenoy/masterline/pkg/logger"
	"github.com/avshenoy/masterline/pkg/masterline"
	"github.com/avshenoy/masterline/pkg/masterline/audio"
	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

// Global flags
var (
	dbPath    string
	remoteURL string
	workers   int
	fastPath  bool
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&dbPath, "db", getEnvOrDefault("MASTERLINE_DB_PATH", "masterline.sqlite3"), "Path to the SQLite fingerprint store")
	flag.StringVar(&remoteURL, "remote", getEnvOrDefault("MASTERLINE_REMOTE_URL", ""), "Base URL of the remote fingerprint service (optional)")
	flag.IntVar(&workers, "workers", 4, "Worker pool size for CPU fingerprint extraction")
	flag.BoolVar(&fastPath, "fast", true, "Use the accelerated batch executor when available")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService creates a masterline service with the configured options
func createService() (masterline.Service, error) {
	opts := []masterline.Option{
		masterline.WithDBPath(dbPath),
		masterline.WithWorkers(workers),
		masterline.WithFastPath(fastPath),
	}
	if remoteURL != "" {
		opts = append(opts, masterline.WithRemote(remoteURL, 0))
	}
	return masterline.NewService(opts...)
}

func main() {
	log := logger.GetLogger()

	printBanner()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	log.Infof("Executing command: %s", command)

	switch command {
	case "analyze":
		handleAnalyze()
	case "fingerprint":
		handleFingerprint()
	case "batch":
		handleBatch()
	case "master":
		handleMaster()
	case "spectrogram":
		handleSpectrogram()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
                      _            _ _
  _ __ ___   __ _ ___| |_ ___ _ __| (_)_ __   ___
 | '_ ` + "`" + ` _ \ / _` + "`" + ` / __| __/ _ \ '__| | | '_ \ / _ \
 | | | | | | (_| \__ \ ||  __/ |  | | | | | |  __/
 |_| |_| |_|\__,_|___/\__\___|_|  |_|_|_| |_|\___|

           Adaptive Audio Mastering CLI
`
	fmt.Println(banner)
}

func handleAnalyze() {
	log := logger.GetLogger()

	if len(os.Args) < 3 {
		fmt.Println("Usage: masterline analyze <audio_file>")
		os.Exit(1)
	}
	audioPath := os.Args[2]

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("Analyzing track...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	analysis, err := svc.Analyze(ctx, trackIDFor(audioPath), audioPath)
	if err != nil {
		fmt.Printf("Analysis failed: %v\n", err)
		log.Errorf("Analyze failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nTrack:      %s\n", audioPath)
	fmt.Printf("Signature:  %s\n", analysis.Signature[:16])
	fmt.Printf("Loudness:   %.1f dB\n", analysis.LoudnessDB)
	fmt.Printf("Crest:      %.1f dB\n", analysis.CrestDB)
	fmt.Printf("Class:      %s\n", analysis.Class)
	if analysis.Params.FrequencyPassThrough {
		fmt.Println("Plan:       pass-through (stereo adjustments only)")
	} else {
		fmt.Printf("Plan:       full chain, normalize %+.1f dB\n", analysis.Params.NormalizationDB)
	}
	log.Infof("Analyzed %s: class=%s", audioPath, analysis.Class)
}

func handleFingerprint() {
	log := logger.GetLogger()

	if len(os.Args) < 3 {
		fmt.Println("Usage: masterline fingerprint <audio_file>")
		os.Exit(1)
	}
	audioPath := os.Args[2]

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fp, err := svc.Fingerprint(ctx, trackIDFor(audioPath), audioPath)
	if err != nil {
		fmt.Printf("Fingerprint failed: %v\n", err)
		log.Errorf("Fingerprint failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nFingerprint for %s (schema v%d):\n\n", audioPath, fp.SchemaVersion)
	for i, v := range fp.Dims {
		fmt.Printf("  %-20s %.4f\n", fingerprint.DimName(i), v)
	}
	fmt.Printf("\nDuration: %s | Sample rate: %d Hz\n",
		time.Duration(fp.Duration*float64(time.Second)).Round(time.Millisecond), fp.SampleRate)
	log.Infof("Fingerprinted %s", audioPath)
}

func handleBatch() {
	log := logger.GetLogger()

	if len(os.Args) < 3 {
		fmt.Println("Usage: masterline batch <audio_file>...")
		os.Exit(1)
	}
	paths := os.Args[2:]

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	tracks := make([]masterline.TrackSource, 0, len(paths))
	for _, p := range paths {
		tracks = append(tracks, masterline.TrackSource{TrackID: trackIDFor(p), SourcePath: p})
	}

	fmt.Printf("Fingerprinting %d track(s)...\n", len(tracks))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	results, err := svc.FingerprintBatch(ctx, tracks)
	if err != nil {
		fmt.Printf("Batch failed: %v\n", err)
		log.Errorf("FingerprintBatch failed: %v", err)
		os.Exit(1)
	}

	ok := 0
	for i, res := range results {
		if res.Err != nil {
			fmt.Printf("  FAIL %s: %v\n", paths[i], res.Err)
			continue
		}
		ok++
		fmt.Printf("  OK   %s (loudness %.1f dB, crest %.1f dB)\n",
			paths[i], res.Fingerprint.LoudnessDB(), res.Fingerprint.CrestDB())
	}
	fmt.Printf("\n%d/%d tracks fingerprinted\n", ok, len(results))
	log.Infof("Batch complete: %d/%d succeeded", ok, len(results))
}

func handleMaster() {
	log := logger.GetLogger()

	args := os.Args[2:]
	masterCmd := flag.NewFlagSet("master", flag.ExitOnError)
	output := masterCmd.String("o", "", "Output WAV path (default: <input>.mastered.wav)")
	raw := masterCmd.Bool("raw", false, "Disable mastering (pass-through with limiter only)")

	var audioPath string
	if len(args) > 0 && args[0][0] != '-' {
		audioPath = args[0]
		args = args[1:]
	}
	masterCmd.Parse(args)

	if audioPath == "" {
		fmt.Println("Usage: masterline master <audio_file> [-o output.wav] [-raw]")
		os.Exit(1)
	}
	if *output == "" {
		*output = audioPath + ".mastered.wav"
	}

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	info, err := svc.OpenStream(ctx, trackIDFor(audioPath), audioPath)
	if err != nil {
		fmt.Printf("Failed to open stream: %v\n", err)
		log.Errorf("OpenStream failed: %v", err)
		os.Exit(1)
	}
	defer svc.CloseStream(info.StreamID)

	if *raw {
		if info, err = svc.SetMastering(ctx, info.StreamID, false); err != nil {
			fmt.Printf("Failed to disable mastering: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Processing %d chunks (class=%s, mastered=%v)...\n",
		info.TotalChunks, info.Class, info.Mastered)

	out := audio.NewBuffer(0, 0, info.SampleRate)
	for i := 0; i < info.TotalChunks; i++ {
		chunk, err := svc.GetChunk(ctx, info.StreamID, i)
		if err != nil {
			fmt.Printf("Chunk %d failed: %v\n", i, err)
			log.Errorf("GetChunk(%d) failed: %v", i, err)
			os.Exit(1)
		}
		appendChunk(out, chunk.PCM, chunk.OverlapFrames, i == info.TotalChunks-1)
	}

	if err := audio.WriteWAV(*output, out); err != nil {
		fmt.Printf("Failed to write output: %v\n", err)
		log.Errorf("WriteWAV failed: %v", err)
		os.Exit(1)
	}

	st, _ := os.Stat(*output)
	size := ""
	if st != nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Printf("\nWrote %s (%s, %s)\n", *output, out.Duration().Round(time.Millisecond), size)
	log.Infof("Mastered %s -> %s", audioPath, *output)
}

// appendChunk stitches one chunk onto the running output. Each chunk's
// leading overlap is already crossfaded against the previous tail, so
// reassembly drops the trailing overlap of every chunk but the last.
func appendChunk(out, pcm *audio.Buffer, overlap int, last bool) {
	if len(out.Channels) < len(pcm.Channels) {
		for len(out.Channels) < len(pcm.Channels) {
			out.Channels = append(out.Channels, nil)
		}
	}
	keep := pcm.Frames()
	if !last && keep > overlap {
		keep -= overlap
	}
	for c := range pcm.Channels {
		out.Channels[c] = append(out.Channels[c], pcm.Channels[c][:keep]...)
	}
}

func handleSpectrogram() {
	log := logger.GetLogger()

	args := os.Args[2:]
	specCmd := flag.NewFlagSet("spectrogram", flag.ExitOnError)
	output := specCmd.String("o", "", "Output PNG path (default: <input>.png)")
	width := specCmd.Int("width", 2048, "Image width in pixels")
	height := specCmd.Int("height", 512, "Image height (frequency bins)")

	var audioPath string
	if len(args) > 0 && args[0][0] != '-' {
		audioPath = args[0]
		args = args[1:]
	}
	specCmd.Parse(args)

	if audioPath == "" {
		fmt.Println("Usage: masterline spectrogram <audio_file> [-o output.png]")
		os.Exit(1)
	}
	if *output == "" {
		*output = audioPath + ".png"
	}

	buf, err := audio.DecodeFile(audioPath)
	if err != nil {
		fmt.Printf("Failed to decode %s: %v\n", audioPath, err)
		log.Errorf("Decode failed: %v", err)
		os.Exit(1)
	}
	samples := buf.Mono()
	fmt.Printf("Read %s samples at %d Hz\n", humanize.Comma(int64(len(samples))), buf.SampleRate)

	img := spectrogram.NewImage128(image.Rect(0, 0, *width, *height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// FFT with a Hamming window, linear magnitude
	spectrogram.Drawfft(
		img,
		samples,
		uint32(buf.SampleRate),
		uint32(*height),
		false, // RECTANGLE (use Hamming window)
		false, // DFT (use FFT instead)
		true,  // MAG (magnitude)
		false, // LOG10 (linear scale)
	)

	if err := spectrogram.SavePng(img, *output); err != nil {
		fmt.Printf("Failed to save PNG: %v\n", err)
		log.Errorf("SavePng failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Saved spectrogram to %s\n", *output)
	log.Infof("Spectrogram %s -> %s", audioPath, *output)
}

// trackIDFor derives a stable track ID from the file name when the
// caller has no catalog of its own.
func trackIDFor(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

func printUsage() {
	fmt.Println("masterline - Adaptive Audio Mastering CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        Path to SQLite fingerprint store (env: MASTERLINE_DB_PATH, default: masterline.sqlite3)")
	fmt.Println("  --remote <url>     Remote fingerprint service base URL (env: MASTERLINE_REMOTE_URL)")
	fmt.Println("  --workers <n>      CPU worker pool size (default: 4)")
	fmt.Println("  --fast             Use the accelerated batch executor (default: true)")
	fmt.Println("\nUsage:")
	fmt.Println("  masterline [global-options] analyze <audio_file>")
	fmt.Println("  masterline [global-options] fingerprint <audio_file>")
	fmt.Println("  masterline [global-options] batch <audio_file>...")
	fmt.Println("  masterline [global-options] master <audio_file> [-o output.wav] [-raw]")
	fmt.Println("  masterline [global-options] spectrogram <audio_file> [-o output.png]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Classify a track and show the derived plan")
	fmt.Println("  masterline analyze song.mp3")
	fmt.Println()
	fmt.Println("  # Master a track to WAV")
	fmt.Println("  masterline master song.flac -o song.mastered.wav")
	fmt.Println()
	fmt.Println("  # Fingerprint a whole directory through the batch path")
	fmt.Println("  masterline batch albums/*.wav")
	fmt.Println()
	fmt.Println("  # Render a spectrogram PNG")
	fmt.Println("  masterline spectrogram song.wav")
}
