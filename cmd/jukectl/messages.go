package main

import "strconv"

func remoteMessage(event string, data map[string]any) map[string]any {
	msg := map[string]any{"source": "remote", "event": event}
	if data != nil {
		msg["data"] = data
	}
	return msg
}

func albumMessage(title, artist string) map[string]any {
	data := map[string]any{"album": title}
	if artist != "" {
		data["artist"] = artist
	}
	return map[string]any{"source": "catalog", "event": "start", "data": data}
}

func tagMessage(uri, band string) map[string]any {
	data := map[string]any{"uri": uri}
	if band != "" {
		data["band"] = band
	}
	return map[string]any{"source": "presence", "event": "start", "data": data}
}

// rawMessage builds a message from command line fields. Integer values are
// sent as numbers.
func rawMessage(source, event string, fields map[string]string) map[string]any {
	msg := map[string]any{"source": source, "event": event}
	if len(fields) == 0 {
		return msg
	}
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if n, err := strconv.Atoi(v); err == nil {
			data[k] = n
			continue
		}
		data[k] = v
	}
	msg["data"] = data
	return msg
}
