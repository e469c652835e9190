// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetenvOrDefault(t *testing.T) {
	os.Unsetenv("SOME_ENV_VAR")

	val := GetenvOrDefault("SOME_ENV_VAR", "DEFAULT_VAL")
	assert.Equal(t, "DEFAULT_VAL", val)

	os.Setenv("SOME_ENV_VAR", "SOME_VAL")
	defer os.Unsetenv("SOME_ENV_VAR")

	val = GetenvOrDefault("SOME_ENV_VAR", "DEFAULT_VAL")
	assert.Equal(t, "SOME_VAL", val)
}

func TestGetenvOrDefaultLowerCase(t *testing.T) {
	os.Unsetenv("SOME_ENV_VAR")

	val := GetenvOrDefaultLowerCase("SOME_ENV_VAR", "DEFAULT_VAL")
	assert.Equal(t, "default_val", val)

	os.Setenv("SOME_ENV_VAR", "SOME_VAL")
	defer os.Unsetenv("SOME_ENV_VAR")

	val = GetenvOrDefaultLowerCase("SOME_ENV_VAR", "DEFAULT_VAL")
	assert.Equal(t, "some_val", val)
}

func TestDefInt(t *testing.T) {
	assert := assert.New(t)
	os.Setenv("TXS_INT", "12345")
	defer os.Unsetenv("TXS_INT")
	assert.Equal(12345, DefInt("TXS_INT", 5))
	assert.Equal(5, DefInt("TXS_INT_UNSET", 5))
	os.Setenv("TXS_INT", "badness")
	assert.Equal(5, DefInt("TXS_INT", 5))
}

func TestDefBool(t *testing.T) {
	assert := assert.New(t)
	os.Setenv("TXS_BOOL", "true")
	defer os.Unsetenv("TXS_BOOL")
	assert.True(DefBool("TXS_BOOL", false))
	assert.False(DefBool("TXS_BOOL_UNSET", false))
	os.Setenv("TXS_BOOL", "maybe")
	assert.True(DefBool("TXS_BOOL", true))
}

func TestAllOrNoneReqd(t *testing.T) {
	assert := assert.New(t)
	assert.True(AllOrNoneReqd())
	assert.True(AllOrNoneReqd("", ""))
	assert.True(AllOrNoneReqd("a", "b"))
	assert.False(AllOrNoneReqd("a", ""))
	assert.False(AllOrNoneReqd("", "b"))
}
