package deploy

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the timestamp half of a release name.
const TimeLayout = "2006-01-02-15-04-05"

// DefaultListLimit is how many releases ListReleases shows by default.
const DefaultListLimit = 10

// Release is one directory under releases/.
type Release struct {
	Name     string    `json:"name"`
	Revision string    `json:"revision"`
	Time     time.Time `json:"time"`
	Current  bool      `json:"current"`
}

// ReleaseName names a release: local time to the second, an underscore, and
// the source revision. Names sort chronologically.
func ReleaseName(runTime time.Time, revision string) string {
	return runTime.Local().Format(TimeLayout) + "_" + revision
}

// ParseReleaseName splits a name made by ReleaseName.
func ParseReleaseName(name string) (time.Time, string, error) {
	stamp, rev, ok := strings.Cut(name, "_")
	if !ok || rev == "" {
		return time.Time{}, "", fmt.Errorf("deploy: %q is not a release name", name)
	}
	t, err := time.ParseInLocation(TimeLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("deploy: %q is not a release name: %w", name, err)
	}
	return t, rev, nil
}

// ListReleases returns up to limit releases, newest first. The release that
// current points at is marked. Directories that are not release names are
// skipped. limit <= 0 means DefaultListLimit.
func (d *Deployer) ListReleases(ctx context.Context, limit int) ([]Release, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	names, err := d.host.ListDir(ctx, d.releasesDir())
	if err != nil {
		return nil, fmt.Errorf("deploy: listing releases: %w", err)
	}

	current, err := d.CurrentRelease(ctx)
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0, len(names))
	for _, name := range names {
		t, rev, err := ParseReleaseName(name)
		if err != nil {
			continue
		}
		releases = append(releases, Release{Name: name, Revision: rev, Time: t, Current: name == current})
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Name > releases[j].Name })

	if len(releases) > limit {
		releases = releases[:limit]
	}
	return releases, nil
}

// CurrentRelease returns the name of the live release, or "" when current
// does not exist yet.
func (d *Deployer) CurrentRelease(ctx context.Context) (string, error) {
	link := d.currentLink()
	ok, err := d.host.Exists(ctx, link)
	if err != nil {
		return "", fmt.Errorf("deploy: checking %s: %w", link, err)
	}
	if !ok {
		return "", nil
	}
	target, err := d.host.ReadLink(ctx, link)
	if err != nil {
		return "", fmt.Errorf("deploy: reading %s: %w", link, err)
	}
	return path.Base(target), nil
}
