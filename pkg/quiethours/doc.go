// Package quiethours provides a schedule based implementation of
// queue.QuietHoursOracle.
//
// Each user has a timezone and a list of daily periods. A period whose end
// is not after its start runs overnight, and its Days name the days the
// period starts on. Users without their own schedule use the default one.
//
//	bypass_priority: 90
//	default:
//	  timezone: UTC
//	  periods:
//	    - start: "22:00"
//	      end: "07:00"
//	users:
//	  user-42:
//	    timezone: Europe/Berlin
//	    periods:
//	      - days: [mon, tue, wed, thu, fri]
//	        start: "21:30"
//	        end: "08:00"
//
// Notifications at or above the bypass priority, and critical kinds, are
// never deferred.
package quiethours
