package main

import (
	"os"

	"github.com/canopen-go/canopen/pkg/od"
	log "github.com/sirupsen/logrus"
)

// domainFileVariable builds a DOMAIN sub-object backed by a local file: an
// SDO download (expedited, segmented, or block) overwrites the file in one
// shot once the whole transfer completes; an SDO upload reads it back in
// full. Demonstrates wiring a custom IndicationFunc instead of the default
// value-slot hooks.
func domainFileVariable(path string) *od.Variable {
	v := od.NewVariable(0, "file-domain", od.Domain, od.AttrSDORW, nil)
	v.DownloadIndication = func(_ *od.Variable, data []byte) ([]byte, od.ODR) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.WithError(err).Error("failed to persist domain download")
			return nil, od.ODRDevIncompat
		}
		log.WithField("bytes", len(data)).Info("domain download written to file")
		return nil, od.ODROK
	}
	v.UploadIndication = func(_ *od.Variable, _ []byte) ([]byte, od.ODR) {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Error("failed to read domain file for upload")
			return nil, od.ODRDevIncompat
		}
		return data, od.ODROK
	}
	return v
}
