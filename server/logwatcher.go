package server

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Session-log records. The platform's client appends one timestamped line
// per observable action; the watcher turns the lines the engine cares
// about into typed records.
type LogRecord interface {
	RecordTime() time.Time
}

type LocationEnteredRecord struct {
	Location  Location
	WorldName string
	Time      time.Time
}

type DestinationRecord struct {
	Location Location
	Time     time.Time
}

type PlayerJoinedRecord struct {
	DisplayName string
	UserID      string
	Time        time.Time
}

type PlayerLeftRecord struct {
	DisplayName string
	UserID      string
	Time        time.Time
}

type AvatarChangedRecord struct {
	DisplayName string
	AvatarName  string
	Time        time.Time
}

type PortalCreatedRecord struct {
	Location Location
	Time     time.Time
}

func (r LocationEnteredRecord) RecordTime() time.Time { return r.Time }
func (r DestinationRecord) RecordTime() time.Time     { return r.Time }
func (r PlayerJoinedRecord) RecordTime() time.Time    { return r.Time }
func (r PlayerLeftRecord) RecordTime() time.Time      { return r.Time }
func (r AvatarChangedRecord) RecordTime() time.Time   { return r.Time }
func (r PortalCreatedRecord) RecordTime() time.Time   { return r.Time }

const logTimeLayout = "2006.01.02 15:04:05"

var (
	logLinePattern        = regexp.MustCompile(`^(\d{4}\.\d{2}\.\d{2} \d{2}:\d{2}:\d{2}) .*?-  (.*)$`)
	logDestinationPattern = regexp.MustCompile(`^\[Behaviour\] Destination set: (\S+)`)
	logJoiningPattern     = regexp.MustCompile(`^\[Behaviour\] Joining (wrld_\S+|private|offline)`)
	logEnteredPattern     = regexp.MustCompile(`^\[Behaviour\] Entering Room: (.*)$`)
	logPlayerJoinPattern  = regexp.MustCompile(`^\[Behaviour\] OnPlayerJoined (.*?)(?: \((usr_[^)]+)\))?$`)
	logPlayerLeftPattern  = regexp.MustCompile(`^\[Behaviour\] OnPlayerLeft (.*?)(?: \((usr_[^)]+)\))?$`)
	logAvatarPattern      = regexp.MustCompile(`^\[Behaviour\] Switching (.*?) to avatar (.*)$`)
	logPortalPattern      = regexp.MustCompile(`^\[Behaviour\] Instantiated a portal to (\S+)`)
)

// LogWatcher tails the platform's session log and feeds parsed records to
// the engine loop, one at a time, in file order.
type LogWatcher struct {
	logger *zap.Logger
	path   string
	handle func(LogRecord)

	// post moves parsed records onto the engine loop.
	post func(func())

	// Pending "Joining wrld_..." location, held until the matching
	// "Entering Room" line names the world.
	pendingLocation *Location
}

func NewLogWatcher(logger *zap.Logger, path string, handle func(LogRecord), post func(func())) *LogWatcher {
	return &LogWatcher{
		logger: logger,
		path:   path,
		handle: handle,
		post:   post,
	}
}

// Run tails the log until the context ends. The file is polled rather
// than watched: the platform client holds it open and appends at a low
// rate, and polling survives rotation.
func (w *LogWatcher) Run(ctx context.Context) error {
	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Start at the end: history is replayed from the store, not the log.
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				w.parseLine(line)
			}
			if err != nil {
				break
			}
		}
	}
}

// parseLine handles one raw log line. Lines that match no pattern are
// simply skipped; the log is full of engine noise.
func (w *LogWatcher) parseLine(line string) {
	m := logLinePattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return
	}
	ts, err := time.ParseInLocation(logTimeLayout, m[1], time.Local)
	if err != nil {
		return
	}
	body := m[2]

	var record LogRecord
	switch {
	case logDestinationPattern.MatchString(body):
		loc := ParseLocation(logDestinationPattern.FindStringSubmatch(body)[1])
		record = DestinationRecord{Location: loc, Time: ts}
	case logJoiningPattern.MatchString(body):
		loc := ParseLocation(logJoiningPattern.FindStringSubmatch(body)[1])
		w.pendingLocation = &loc
		return
	case logEnteredPattern.MatchString(body):
		worldName := logEnteredPattern.FindStringSubmatch(body)[1]
		loc := Location{IsPrivate: true, Tag: locationPrivate}
		if w.pendingLocation != nil {
			loc = *w.pendingLocation
			w.pendingLocation = nil
		}
		record = LocationEnteredRecord{Location: loc, WorldName: worldName, Time: ts}
	case logPlayerJoinPattern.MatchString(body):
		sub := logPlayerJoinPattern.FindStringSubmatch(body)
		record = PlayerJoinedRecord{DisplayName: sub[1], UserID: sub[2], Time: ts}
	case logPlayerLeftPattern.MatchString(body):
		sub := logPlayerLeftPattern.FindStringSubmatch(body)
		record = PlayerLeftRecord{DisplayName: sub[1], UserID: sub[2], Time: ts}
	case logAvatarPattern.MatchString(body):
		sub := logAvatarPattern.FindStringSubmatch(body)
		record = AvatarChangedRecord{DisplayName: sub[1], AvatarName: sub[2], Time: ts}
	case logPortalPattern.MatchString(body):
		loc := ParseLocation(logPortalPattern.FindStringSubmatch(body)[1])
		record = PortalCreatedRecord{Location: loc, Time: ts}
	default:
		return
	}

	w.post(func() { w.handle(record) })
}
