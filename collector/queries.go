package collector

import (
	"fmt"
	"strings"

	"github.com/illenko/relicwatch/models"
)

const valueColumn = "value"

var sinceClause = map[string]string{
	models.Window30Min: "30 minutes ago",
	models.Window3H:    "3 hours ago",
	models.Window24H:   "24 hours ago",
	models.Window7D:    "7 days ago",
	models.Window30D:   "30 days ago",
}

type metricQuery struct {
	name string
	// selectFrom is the "SELECT ... FROM ..." part; the value must be aliased as 'value'.
	selectFrom string
}

// entityTarget is the attribute an entity's metrics are filtered on.
type entityTarget struct {
	field string
	value string
}

func (q metricQuery) build(target entityTarget, since string) string {
	value := strings.ReplaceAll(target.value, "'", `\'`)
	return fmt.Sprintf("%s WHERE %s = '%s' SINCE %s", q.selectFrom, target.field, value, since)
}

var domainMetrics = map[models.Domain][]metricQuery{
	models.DomainAPM: {
		{name: "apdex", selectFrom: "SELECT apdex(duration, t: 0.5) AS 'value' FROM Transaction"},
		{name: "response_time", selectFrom: "SELECT average(duration) AS 'value' FROM Transaction"},
		{name: "error_rate", selectFrom: "SELECT percentage(count(*), WHERE error IS true) AS 'value' FROM Transaction"},
		{name: "throughput", selectFrom: "SELECT rate(count(*), 1 minute) AS 'value' FROM Transaction"},
	},
	models.DomainBrowser: {
		{name: "apdex", selectFrom: "SELECT apdex(duration, t: 1) AS 'value' FROM PageView"},
		{name: "page_load_time", selectFrom: "SELECT average(duration) AS 'value' FROM PageView"},
		{name: "js_errors", selectFrom: "SELECT count(*) AS 'value' FROM JavaScriptError"},
	},
	models.DomainInfra: {
		{name: "cpu_usage", selectFrom: "SELECT average(cpuPercent) AS 'value' FROM SystemSample"},
		{name: "memory_usage", selectFrom: "SELECT average(memoryUsedPercent) AS 'value' FROM SystemSample"},
		{name: "disk_usage", selectFrom: "SELECT average(diskUsedPercent) AS 'value' FROM StorageSample"},
	},
}

var genericMetrics = []metricQuery{
	{name: "event_count", selectFrom: "SELECT count(*) AS 'value' FROM Metric"},
}

func metricsFor(d models.Domain) []metricQuery {
	if q, ok := domainMetrics[d]; ok {
		return q
	}
	return genericMetrics
}
