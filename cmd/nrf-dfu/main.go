package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robbym/nrf-dfu/pkg/archive"
	"github.com/robbym/nrf-dfu/pkg/device"
	"github.com/robbym/nrf-dfu/pkg/status"
	"github.com/robbym/nrf-dfu/pkg/updater"
)

var (
	serialDevice = flag.String("serial", "/dev/ttyACM0", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	archivePath  = flag.String("archive", "", "Path to the firmware ZIP archive")
	prn          = flag.Uint("prn", 5, "Packet receipt notification interval (0 disables acknowledged writes)")
	force        = flag.Bool("force", false, "Restart every object transfer from zero, ignoring device-reported resume state")
	redisAddr    = flag.String("redis-addr", "", "Redis server address (empty disables status/job-queue reporting)")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	daemon       = flag.Bool("daemon", false, "Block on the Redis job queue instead of running one update from -archive")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting nrf-dfu")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)

	var statusClient *status.Client
	if *redisAddr != "" {
		var err error
		statusClient, err = status.NewClient(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer statusClient.Close()
		log.Printf("Connected to Redis at %s", *redisAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *daemon {
		if statusClient == nil {
			log.Fatalf("-daemon requires -redis-addr")
		}
		runDaemon(statusClient, sigCh)
		return
	}

	if *archivePath == "" {
		log.Fatalf("-archive is required outside -daemon mode")
	}
	if err := runOnce(*archivePath, *serialDevice, *baudRate, uint16(*prn), *force, statusClient); err != nil {
		log.Fatalf("Update failed: %v", err)
	}
	log.Printf("Update complete")
}

// runOnce drives a single update session end to end against one device.
func runOnce(archivePath, serialDevice string, baud int, prn uint16, force bool, reporter *status.Client) error {
	bundle, err := archive.NewZipBundle(archivePath).Bundle()
	if err != nil {
		return err
	}

	dev, err := device.OpenSerialDevice(serialDevice, baud)
	if err != nil {
		return err
	}
	defer dev.Close()

	opts := []updater.Option{updater.WithPRN(prn), updater.WithForce(force)}
	if reporter != nil {
		opts = append(opts, updater.WithReporter(reporter))
	}

	u := updater.New(dev, opts...)
	result, err := u.Update(bundle)
	if err != nil {
		return err
	}
	log.Printf("Updated %s in %s", result.BundleSummary, result.Duration)
	return nil
}

// runDaemon blocks on the Redis job queue, running one update per popped
// JobRequest, until sigCh fires.
func runDaemon(statusClient *status.Client, sigCh <-chan os.Signal) {
	log.Printf("Waiting for jobs on %s", status.JobQueueKey)

	for {
		select {
		case <-sigCh:
			log.Printf("Shutting down...")
			return
		default:
		}

		job, err := statusClient.NextJob(5 * time.Second)
		if err != nil {
			log.Printf("Error polling job queue: %v", err)
			continue
		}
		if job == nil {
			continue
		}

		log.Printf("Running update for job: archive=%s device=%s prn=%d force=%v",
			job.ArchivePath, job.DeviceName, job.PRN, job.Force)

		devicePath := job.DeviceName
		if devicePath == "" {
			devicePath = *serialDevice
		}
		if err := runOnce(job.ArchivePath, devicePath, *baudRate, job.PRN, job.Force, statusClient); err != nil {
			log.Printf("Job failed: %v", err)
		}
	}
}
