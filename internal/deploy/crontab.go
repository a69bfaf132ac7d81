package deploy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidateCrontab checks every schedule line of a crontab before it replaces
// the installed one. Blank lines, comments and NAME=value lines pass through.
// Schedules are five standard fields or an @descriptor; @reboot is accepted
// even though it has no schedule.
func ValidateCrontab(content []byte) error {
	var errs []error
	sc := bufio.NewScanner(bytes.NewReader(content))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || isEnvLine(line) {
			continue
		}
		if err := validateEntry(line); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("deploy: reading crontab: %w", err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("deploy: invalid crontab: %w", err)
	}
	return nil
}

func validateEntry(line string) error {
	fields := strings.Fields(line)

	if strings.HasPrefix(fields[0], "@") {
		if len(fields) < 2 {
			return fmt.Errorf("%s has no command", fields[0])
		}
		if fields[0] == "@reboot" {
			return nil
		}
		_, err := cron.ParseStandard(fields[0])
		return err
	}

	if len(fields) < 6 {
		return errors.New("want five schedule fields and a command")
	}
	_, err := cron.ParseStandard(strings.Join(fields[:5], " "))
	return err
}

func isEnvLine(line string) bool {
	name, _, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	name = strings.TrimSpace(name)
	return name != "" && !strings.ContainsAny(name, " \t*")
}
