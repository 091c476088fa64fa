package registry

import "encoding/json"

func parseIndexLine(line string) (indexEntry, error) {
	var e indexEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return indexEntry{}, err
	}
	return e, nil
}
