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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matterminers/tardis/pkg/operator"
	"github.com/matterminers/tardis/pkg/operator/options"
	"github.com/matterminers/tardis/pkg/utils/log"
)

func main() {
	opts := options.New().MustParse()
	logger := log.Setup(opts.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.IntoContext(ctx, logger)

	op, err := operator.New(ctx, opts)
	if err != nil {
		logger.Error(err, "initializing")
		os.Exit(1)
	}
	logger.Info("starting", "site", op.Config.Site.Name, "drones", len(op.Drones))
	if err := op.Start(ctx); err != nil {
		logger.Error(err, "shutting down")
		os.Exit(1)
	}
}
