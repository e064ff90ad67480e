/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/matterminers/tardis/pkg/utils/env"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet

	ConfigFile           string
	Verbose              bool
	AvailabilityInterval time.Duration
	PacingInterval       time.Duration
}

// New creates an Options struct and registers CLI flags and environment
// variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("tardis", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.ConfigFile, "config-file", env.WithDefaultString("TARDIS_CONFIG_FILE", "tardis.yml"), "Path to the YAML configuration file")
	f.BoolVar(&opts.Verbose, "verbose", env.WithDefaultBool("TARDIS_VERBOSE", false), "Enable debug logging")
	f.DurationVar(&opts.AvailabilityInterval, "availability-interval", env.WithDefaultDuration("TARDIS_AVAILABILITY_INTERVAL", 10*time.Second), "How often an available drone re-checks its machine status")
	f.DurationVar(&opts.PacingInterval, "pacing-interval", env.WithDefaultDuration("TARDIS_PACING_INTERVAL", 0), "Pause inserted between drone state executions, none by default")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default
// values. Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	if o.ConfigFile == "" {
		err = multierr.Append(err, fmt.Errorf("TARDIS_CONFIG_FILE is required"))
	}
	if o.AvailabilityInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("availability-interval must be positive"))
	}
	if o.PacingInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("pacing-interval may not be negative"))
	}
	return err
}
