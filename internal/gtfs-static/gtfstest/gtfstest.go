// Package gtfstest builds small GTFS archives for tests.
package gtfstest

import (
	"archive/zip"
	"bytes"
	"sort"
	"testing"
)

// Archive zips files, keyed by name, in name order.
func Archive(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return buf.Bytes()
}

// Feed is a three-stop line with a weekday service and one added Saturday.
// Stop Z is served by nothing.
func Feed() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"METRA,Metra,https://metra.com,America/Chicago\n",
		"stops.txt": "\ufeffstop_id,stop_name,stop_lat,stop_lon,zone_id,wheelchair_boarding\n" +
			"A,Alpha,41.88,-87.63,1,1\n" +
			"B,Bravo,41.90,-87.70,2,0\n" +
			"C,Charlie,41.95,-87.75,2,0\n" +
			"Z,Zulu,,,,\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type,route_color,route_text_color\n" +
			"UP-N,METRA,UP-N,Union Pacific North,2,0D5F38,FFFFFF\n" +
			"MD-W,METRA,MD-W,Milwaukee District West,2,E1861E,000000\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WKD,1,1,1,1,1,0,0,20240601,20240630\n" +
			"BAD,1,1,1,1,1,0,0,notadate,20240630\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WKD,20240615,1\n" +
			"WKD,20240604,2\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id\n" +
			"UP-N,WKD,out-0800,Charlie,0\n" +
			"MD-W,WKD,mdw-0900,Bravo,0\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"out-0800,08:00:00,08:00:00,A,1\n" +
			"out-0800,08:20:00,08:21:00,B,2\n" +
			"out-0800,24:40:00,24:40:00,C,3\n" +
			"mdw-0900,09:00:00,09:00:00,A,1\n" +
			"mdw-0900,09:30:00,09:30:00,B,2\n",
	}
}
