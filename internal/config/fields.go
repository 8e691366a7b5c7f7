package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TicketFields holds the help-desk custom field ids and fixed ticket
// attributes. They differ per help-desk account, so they can be overridden
// from a TOML file.
type TicketFields struct {
	Form               int64   `toml:"form"`
	AppVersion         int64   `toml:"app_version"`
	BlogList           int64   `toml:"blog_list"`
	DeviceFreeSpace    int64   `toml:"device_free_space"`
	NetworkInformation int64   `toml:"network_information"`
	Logs               int64   `toml:"logs"`
	Subject            string  `toml:"subject"`
	ArticleLabel       string  `toml:"article_label"`
	CategoryIDs        []int64 `toml:"category_ids"`
}

// DefaultTicketFields returns the production help-desk layout.
func DefaultTicketFields() TicketFields {
	return TicketFields{
		Form:               360000010286,
		AppVersion:         360000086866,
		BlogList:           360000087183,
		DeviceFreeSpace:    360000089123,
		NetworkInformation: 360000086966,
		Logs:               22871957,
		Subject:            "WordPress for Android Support",
		ArticleLabel:       "Android",
		CategoryIDs:        []int64{360000041586},
	}
}

// LoadTicketFields reads a TOML file on top of the defaults. Keys missing
// from the file keep their default values.
func LoadTicketFields(path string) (TicketFields, error) {
	fields := DefaultTicketFields()
	meta, err := toml.DecodeFile(path, &fields)
	if err != nil {
		return TicketFields{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return TicketFields{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if err := fields.Validate(); err != nil {
		return TicketFields{}, err
	}
	return fields, nil
}

// Validate checks that every field id is set.
func (f TicketFields) Validate() error {
	ids := map[string]int64{
		"form":                f.Form,
		"app_version":         f.AppVersion,
		"blog_list":           f.BlogList,
		"device_free_space":   f.DeviceFreeSpace,
		"network_information": f.NetworkInformation,
		"logs":                f.Logs,
	}
	for name, id := range ids {
		if id <= 0 {
			return fmt.Errorf("ticket field %s must be > 0", name)
		}
	}
	if f.Subject == "" {
		return fmt.Errorf("ticket subject cannot be empty")
	}
	return nil
}
