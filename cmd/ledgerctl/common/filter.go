package common

import (
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/manager/filter"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/spf13/pflag"
)

// AddFilterFlags registers the flags read by ParseFilter.
func AddFilterFlags(flags *pflag.FlagSet) {
	flags.StringSlice("linear-id", nil, "Only states of these linear IDs")
	flags.StringSliceP("participant", "p", nil, "Only states with one of these participants")
	flags.StringSlice("schema", nil, "Only states with one of these payload schemas")
	flags.StringP("where", "w", "", "Boolean expression over the state, e.g. 'payload.value > 10'")
}

// ParseFilter builds a filter from the flags registered by AddFilterFlags. The
// filter is compiled locally so that mistakes are reported before dialing.
func ParseFilter(flags *pflag.FlagSet) (*api.Filter, error) {
	var (
		f   api.Filter
		err error
	)
	if f.LinearIDs, err = flags.GetStringSlice("linear-id"); err != nil {
		return nil, err
	}
	if f.Participants, err = flags.GetStringSlice("participant"); err != nil {
		return nil, err
	}
	if f.Schemas, err = flags.GetStringSlice("schema"); err != nil {
		return nil, err
	}
	if f.Expression, err = flags.GetString("where"); err != nil {
		return nil, err
	}

	if _, err := filter.Compile(&f, schema.Default); err != nil {
		return nil, err
	}
	return &f, nil
}
