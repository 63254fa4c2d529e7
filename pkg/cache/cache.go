// Package cache holds the battery alert cooldown keys and the latest reading
// of each device, in process or in Redis.
package cache

import (
	"fmt"
)

func latestKey(deviceID int) string {
	return fmt.Sprintf("device:%d:latest", deviceID)
}
