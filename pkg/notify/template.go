package notify

import (
	"fmt"
	"html/template"
	"time"

	"adhiba.xyz/iot-climate-service/pkg/models"
)

type batteryEmailData struct {
	DeviceID  int
	Location  string
	Battery   string
	Threshold string
	Date      string
}

func newBatteryEmailData(alert *models.Alert, location string) batteryEmailData {
	if location == "" {
		location = "Unknown location"
	}
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return batteryEmailData{
		DeviceID:  alert.DeviceID,
		Location:  location,
		Battery:   formatVolts(alert.Value),
		Threshold: formatVolts(alert.Threshold),
		Date:      ts.Format("02 Jan 2006"),
	}
}

func formatVolts(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

var batteryEmail = template.Must(template.New("battery").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>Battery Level Alert – {{.Location}} ({{.DeviceID}}) | {{.Date}}</title>
</head>
<body style="margin:0; padding:0; font-family:Arial, Helvetica, sans-serif; background-color:#f5f5f5;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color:#f5f5f5; padding:20px 0;">
    <tr>
      <td align="center">
        <table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff; border-radius:8px; overflow:hidden;">
          <tr>
            <td style="background-color:#313985; color:#ffffff; padding:20px 30px; font-size:18px;">
              Climate Monitoring
            </td>
          </tr>
          <tr>
            <td style="padding:40px;">
              <h2 style="color:#FF0000; text-align:center; font-size:18px; margin-bottom:25px;">
                Battery Level Alert – {{.Location}} ({{.DeviceID}}) | {{.Date}}
              </h2>
              <table cellpadding="5" style="margin:0 auto; font-size:14px;">
                <tr><td><strong>Device ID</strong></td><td>: {{.DeviceID}}</td></tr>
                <tr><td><strong>Location</strong></td><td>: {{.Location}}</td></tr>
                <tr><td><strong>Battery Level</strong></td><td>: {{.Battery}}V (Critical)</td></tr>
                <tr><td><strong>Threshold</strong></td><td>: {{.Threshold}}V</td></tr>
              </table>
              <p style="text-align:center; margin-top:20px; color:#333; font-size:15px;">
                The battery level has dropped below the safe limit.
              </p>
              <p style="text-align:center; color:#666; font-size:12px;">
                Please replace or recharge the battery to avoid interruptions.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))
