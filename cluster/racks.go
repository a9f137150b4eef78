package cluster

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseRacks extracts the rack of nodeName in every namespace from a
// `racks:` response, e.g.
// `ns=test:rack_1=BB9A,BB9B:rack_2=BB9C;ns=bar:rack_0=BB9A`.
// Namespaces that do not list the node are omitted.
func parseRacks(value string, nodeName string) (map[string]int, error) {
	racks := make(map[string]int)

	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		nsPart, ok := strings.CutPrefix(parts[0], "ns=")
		if !ok || nsPart == "" {
			return nil, errors.Wrapf(ErrRacksParse, "invalid namespace entry %q", parts[0])
		}

		for _, rackPart := range parts[1:] {
			rackKey, nodeList, ok := strings.Cut(rackPart, "=")
			if !ok {
				return nil, errors.Wrapf(ErrRacksParse, "invalid rack entry %q", rackPart)
			}

			idStr, ok := strings.CutPrefix(rackKey, "rack_")
			if !ok {
				return nil, errors.Wrapf(ErrRacksParse, "invalid rack key %q", rackKey)
			}

			rackID, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, errors.Wrapf(ErrRacksParse, "invalid rack id %q", idStr)
			}

			for _, name := range strings.Split(nodeList, ",") {
				if name == nodeName {
					racks[nsPart] = rackID
				}
			}
		}
	}

	return racks, nil
}
