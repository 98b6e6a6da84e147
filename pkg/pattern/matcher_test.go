package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchWildcardAny(t *testing.T) {
	assert.True(t, Match("anything.csv", "*"))
	assert.True(t, Match("anything.csv", ""))
}

func TestMatchCaseInsensitive(t *testing.T) {
	assert.True(t, Match("REPORT.CSV", "report.csv"))
	assert.True(t, Match("report.csv", "REPORT.CSV"))
}

func TestMatchQuestionMark(t *testing.T) {
	assert.True(t, Match("trans_1.csv", "trans_?.csv"))
	assert.False(t, Match("trans_12.csv", "trans_?.csv"))
}

func TestMatchEscapesRegexMetacharacters(t *testing.T) {
	assert.True(t, Match("01-24.csv", "??-??.csv"))
	assert.False(t, Match("01x24.csv", "??-??.csv"))
	assert.True(t, Match("a+b.csv", "a+b.csv"))
	assert.False(t, Match("aXb.csv", "a+b.csv"))
}

func TestMatchExtension(t *testing.T) {
	assert.True(t, MatchExtension("report.CSV", "csv"))
	assert.True(t, MatchExtension("report.csv", ".csv"))
	assert.False(t, MatchExtension("report.txt", "csv"))
	assert.False(t, MatchExtension("report", "csv"))
	assert.True(t, MatchExtension("report.csv", ""))
}
