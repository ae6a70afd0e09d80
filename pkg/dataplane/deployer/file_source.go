/*
Copyright 2025 The Kubernetes Authors.

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

package deployer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/config/loader"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

const DefaultReloadDelay = 200 * time.Millisecond

// FileSource deploys the apis of a definitions file and redeploys them when
// the file changes.
type FileSource struct {
	path        string
	deployer    *Deployer
	reloadDelay time.Duration
}

func NewFileSource(path string, deployer *Deployer) *FileSource {
	return &FileSource{path: path, deployer: deployer, reloadDelay: DefaultReloadDelay}
}

// Load reads the definitions file and syncs the deployer with it.
func (s *FileSource) Load(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("file", s.path)
	definition, err := loader.LoadDefinition(nil, s.path, logger)
	if err != nil {
		return err
	}
	logger.V(logutil.VERBOSE).Info("Definitions loaded", "apis", len(definition.Apis))
	return s.deployer.Sync(ctx, definition)
}

// Run watches the directory of the definitions file until ctx is done. Bursts
// of events are coalesced into one reload; reload errors keep the apis
// already deployed and are only logged.
func (s *FileSource) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("file", s.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create definitions watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and config map mounts replace files, so the directory is watched.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	name := filepath.Clean(s.path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.V(logutil.DEBUG).Info("Definitions file changed", "op", event.Op.String())
			reload = time.After(s.reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "Definitions watcher error")
		case <-reload:
			reload = nil
			if err := s.Load(ctx); err != nil {
				logger.Error(err, "Definitions reloaded with errors, apis that failed keep their previous deployment")
				continue
			}
			logger.V(logutil.DEFAULT).Info("Definitions reloaded")
		}
	}
}
