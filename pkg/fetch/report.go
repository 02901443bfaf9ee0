package fetch

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/rlogvault/rlogvault/pkg/byteshuman"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

func renderReports(output io.Writer, reports []*rvtypes.DeviceReport) {
	table := tablewriter.NewWriter(output)
	table.SetHeader([]string{"Device", "Dongle", "Present", "Fetched", "Compressed", "Failed", "Bytes"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)

	for _, report := range reports {
		status := strconv.Itoa(report.Failed)
		if report.Err != nil {
			status = "ERROR: " + report.Err.Error()
		}

		table.Append([]string{
			report.Device,
			report.DongleID,
			strconv.Itoa(report.AlreadyPresent),
			strconv.Itoa(report.Transferred),
			strconv.Itoa(report.Compressed),
			status,
			byteshuman.Humanize(report.BytesTransferred),
		})
	}

	fmt.Fprintln(output, "")
	table.Render()
}
