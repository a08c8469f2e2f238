// Package icp implements the four-step challenge protocol against the
// ICP registry: auth token acquisition, challenge fetch, solution
// verification, and the registry query itself.
package icp

import (
	"encoding/json"
	"fmt"
	"image"
)

// ServiceType selects which registry partition a query searches.
type ServiceType int

const (
	ServiceWeb      ServiceType = 1
	ServiceApp      ServiceType = 6
	ServiceMiniApp  ServiceType = 7
	ServiceQuickApp ServiceType = 8
)

// ParseServiceType maps the CLI-facing names onto the wire values.
func ParseServiceType(name string) (ServiceType, error) {
	switch name {
	case "web":
		return ServiceWeb, nil
	case "app":
		return ServiceApp, nil
	case "mapp":
		return ServiceMiniApp, nil
	case "kapp":
		return ServiceQuickApp, nil
	}
	return 0, fmt.Errorf("unknown service type %q (want web, app, mapp or kapp)", name)
}

func (t ServiceType) String() string {
	switch t {
	case ServiceWeb:
		return "web"
	case ServiceApp:
		return "app"
	case ServiceMiniApp:
		return "mapp"
	case ServiceQuickApp:
		return "kapp"
	}
	return fmt.Sprintf("ServiceType(%d)", int(t))
}

// envelope is the common response wrapper every endpoint uses. Params is
// left raw because its shape differs per endpoint, and the verify
// endpoint even switches between a string and an object.
type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Params  json.RawMessage `json:"params"`
}

// The token field is spelled "bussiness" on the wire. That is the
// server's spelling, not a typo here.
type authParams struct {
	Bussiness string `json:"bussiness"`
	Expire    int64  `json:"expire"`
}

type challengeParams struct {
	BigImage   string `json:"bigImage"`
	SmallImage string `json:"smallImage"`
	UUID       string `json:"uuid"`
	SecretKey  string `json:"secretKey"`
}

// Challenge is one decoded captcha challenge, valid for a single
// verification attempt.
type Challenge struct {
	Background *image.RGBA
	Small      *image.RGBA
	UUID       string
	SecretKey  string
	ClientUID  string
}

// Record is one registry entry. Field availability varies by service
// type: web entries carry Domain, app-family entries carry ServiceName
// and a DataID usable for a detail lookup.
type Record struct {
	DataID           int64  `json:"dataId"`
	UnitName         string `json:"unitName"`
	NatureName       string `json:"natureName"`
	Domain           string `json:"domain"`
	ServiceName      string `json:"serviceName"`
	ServiceHome      string `json:"serviceHome"`
	MainLicence      string `json:"mainLicence"`
	ServiceLicence   string `json:"serviceLicence"`
	UpdateRecordTime string `json:"updateRecordTime"`
	MainUnitAddress  string `json:"mainUnitAddress"`
	ServiceContent   string `json:"serviceContent"`
	ServiceScope     string `json:"serviceScope"`
	LeaderName       string `json:"leaderName"`
}

// QueryResult is one page of registry records.
type QueryResult struct {
	List    []Record `json:"list"`
	Total   int      `json:"total"`
	PageNum int      `json:"pageNum"`
	Pages   int      `json:"pages"`
}

// QueryRequest describes one registry lookup.
type QueryRequest struct {
	UnitName    string
	ServiceType ServiceType
	PageNum     int
	PageSize    int
}
