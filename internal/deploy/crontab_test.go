package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCrontab(t *testing.T) {
	valid := []string{
		"",
		"# only a comment\n",
		"MAILTO=ops@example.com\nPATH = /usr/bin:/bin\n*/5 * * * * /project/bin/poll\n",
		"0 3 * * 1-5 cd /project/current && ./manage cleanup >> /project/log/cron.log 2>&1\n",
		"@daily /project/bin/rotate\n@reboot /project/bin/warm\n",
		"30 4 1 jan,jul * /project/bin/report FOO=bar\n",
	}
	for _, c := range valid {
		assert.NoError(t, ValidateCrontab([]byte(c)), c)
	}

	invalid := map[string]string{
		"bad minute":     "61 * * * * /bin/true\n",
		"missing fields": "0 3 * * /bin/true\n",
		"bare schedule":  "0 3 * * * \n",
		"no command":     "@daily\n",
		"bad descriptor": "@fortnightly /bin/true\n",
	}
	for name, c := range invalid {
		assert.Error(t, ValidateCrontab([]byte(c)), name)
	}
}

func TestValidateCrontab_ReportsLineNumbers(t *testing.T) {
	err := ValidateCrontab([]byte("# header\n0 3 * * * ok\n99 * * * * broken\n"))
	assert.ErrorContains(t, err, "line 3")
}
