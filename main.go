package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"
	flag "github.com/spf13/pflag"
)

func main() {
	cfg := LoadConfig()

	urlFlag := flag.String("url", cfg.ServerURL, "converter address (host:port or ws[s]:// URL)")
	sampleRate := flag.Int("sample-rate", cfg.SampleRate, "wire sample rate in Hz")
	channels := flag.Int("channels", cfg.Channels, "wire channel count")
	frameSize := flag.Int("frame-size", cfg.FrameSize, "samples per channel per frame")
	inputDevice := flag.Int("input-device", cfg.InputDeviceID, "capture device index (-1 = default)")
	outputDevice := flag.Int("output-device", cfg.OutputDeviceID, "playback device index (-1 = default)")
	tapPath := flag.String("tap", cfg.TapPath, "record outbound frames to this WAV file")
	listDevices := flag.Bool("list-devices", false, "list audio devices and exit")
	save := flag.Bool("save", false, "persist the given flags as defaults")
	flag.Parse()

	if *listDevices {
		if err := printDevices(); err != nil {
			log.Fatalf("[main] list devices: %v", err)
		}
		return
	}

	if *save {
		cfg.ServerURL = *urlFlag
		cfg.SampleRate = *sampleRate
		cfg.Channels = *channels
		cfg.FrameSize = *frameSize
		cfg.InputDeviceID = *inputDevice
		cfg.OutputDeviceID = *outputDevice
		cfg.TapPath = *tapPath
		if err := SaveConfig(cfg); err != nil {
			log.Printf("[main] save config: %v", err)
		}
	}

	url, err := normalizeServerURL(*urlFlag)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	app := NewApp()
	app.SetInputDevice(*inputDevice)
	app.SetOutputDevice(*outputDevice)
	app.SetTapPath(*tapPath)

	handle, err := app.Start(url, AudioConfig{
		SampleRate: *sampleRate,
		Channels:   *channels,
		FrameSize:  *frameSize,
	})
	if err != nil {
		log.Fatalf("[main] start stream: %v", err)
	}
	log.Printf("[main] streaming to %s — ctrl-c to stop", url)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	handle.Stop()
	log.Println("[main] stopped")
}

// printDevices lists the host's capture and playback devices.
func printDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	fmt.Println("Input devices:")
	for _, d := range ListInputDevices() {
		fmt.Printf("  %3d  %s\n", d.ID, d.Name)
	}
	fmt.Println("Output devices:")
	for _, d := range ListOutputDevices() {
		fmt.Printf("  %3d  %s\n", d.ID, d.Name)
	}
	return nil
}
