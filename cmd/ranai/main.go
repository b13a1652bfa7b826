/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command ranai manages the shared memory segment between an ns-3 RAN
// scenario and its controller, and runs either side of the step exchange.
package main

import (
	"fmt"
	"os"

	"github.com/qiliang336/ns3-platform/cmd/ranai/command"
	"github.com/qiliang336/ns3-platform/internal/logger"
)

func main() {
	err := command.NewRootCommand().Execute()
	logger.SyncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
