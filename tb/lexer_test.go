/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tb

import "testing"

func TestTokenize_Program(t *testing.T) {
	tokens := Tokenize("Fn Main: Return 1 + 2; End Fn")
	expected := []TokenId{
		TokenFunction, TokenIdentifier, TokenColon,
		TokenReturn, TokenNumber, TokenPlus, TokenNumber, TokenSemicolon,
		TokenEnd, TokenFunction, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, want := range expected {
		if tokens[i].Type != want {
			t.Fatalf("token %d: expected type %d, got %d (%q)", i, want, tokens[i].Type, tokens[i].Text)
		}
	}
}

func TestTokenize_TwoCharOperators(t *testing.T) {
	tokens := Tokenize("a == b != c = d")
	expected := []TokenId{TokenIdentifier, Token2Equals, TokenIdentifier, TokenNotEquals, TokenIdentifier, TokenEquals, TokenIdentifier, TokenEOF}
	for i, want := range expected {
		if tokens[i].Type != want {
			t.Fatalf("token %d: expected type %d, got %d", i, want, tokens[i].Type)
		}
	}
}

func TestTokenize_BindingPowers(t *testing.T) {
	tokens := Tokenize("+ * < ==")
	if tokens[0].LBP != precArithmeticAddSub {
		t.Fatalf("+ lbp: %d", tokens[0].LBP)
	}
	if tokens[1].LBP != precArithmeticMulDiv {
		t.Fatalf("* lbp: %d", tokens[1].LBP)
	}
	if tokens[2].LBP != precEquality {
		t.Fatalf("< lbp: %d", tokens[2].LBP)
	}
	if tokens[3].LBP != precEquality {
		t.Fatalf("== lbp: %d", tokens[3].LBP)
	}
}

func TestTokenize_NumbersAndIdentifiers(t *testing.T) {
	tokens := Tokenize("foo_1 12.5")
	if tokens[0].Type != TokenIdentifier || tokens[0].Text != "foo_1" {
		t.Fatalf("identifier: %v", tokens[0])
	}
	if tokens[1].Type != TokenNumber || tokens[1].Text != "12.5" {
		t.Fatalf("number: %v", tokens[1])
	}
}

func TestTokenize_BadCharacter(t *testing.T) {
	err := func() (err error) {
		defer recoverError(&err)
		Tokenize("a $ b")
		return nil
	}()
	if err == nil {
		t.Fatalf("expected an error for '$'")
	}
}
