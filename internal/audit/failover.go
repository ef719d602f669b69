package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	SpoolDir           = "/var/lib/ts-monitor/spool/audit"
	MaxSpoolSize int64 = 1024 * 1024 * 1024 // 1GB
)

func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolEvent appends the record to the local JSONL spool.
func SpoolEvent(evt AuditEvent) error {
	if isSpoolFull() {
		return fmt.Errorf("audit spool full")
	}

	payload := FailoverEvent{
		EventID:   evt.EventID.String(),
		AccountID: evt.AccountID.String(),
		Payload:   evt,
		Timestamp: time.Now(),
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	filename := filepath.Join(SpoolDir, "audit_spool.log")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	return nil
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

// Replayer (background worker): retries spooled records against the DB.
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, "audit_spool.log")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || err == nil && info.Size() == 0 {
		return
	}

	// Rename first so writers keep appending to a fresh spool file
	// while we replay this snapshot.
	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("Failed to rotate spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var succeeded int

	for scanner.Scan() {
		var fe FailoverEvent
		if err := json.Unmarshal(scanner.Bytes(), &fe); err != nil {
			continue
		}

		// WriteEvent re-spools on DB failure, so a record is either
		// in the DB or back in the live spool after this pass.
		if err := s.WriteEvent(ctx, fe.Payload); err == nil {
			succeeded++
		}
	}

	f.Close()
	os.Remove(replayFile)

	if succeeded > 0 {
		log.Printf("Audit Replay: %d events flushed", succeeded)
	}
}
