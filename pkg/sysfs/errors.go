// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sysfs

import "fmt"

// sysfsError returns a new formatted error specific to topology discovery,
// rooted at the sysfs path that triggered it. Any such error is always a
// configuration-fatal error: a missing expected file or an unparsable
// integer aborts startup rather than degrading discovery.
func sysfsError(path, format string, args ...interface{}) error {
	return fmt.Errorf("sysfs %s: "+format, append([]interface{}{path}, args...)...)
}
