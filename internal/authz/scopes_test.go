package authz

import "testing"

func TestScopesForKnownCommands(t *testing.T) {
	tests := []struct {
		cmd  Command
		want []Scope
	}{
		{CommandHalt, []Scope{ScopeAdmin}},
		{CommandFlush, []Scope{ScopeAdmin, ScopeOperate}},
		{CommandRestart, []Scope{ScopeAdmin, ScopeOperate}},
		{CommandAdjustCapital, []Scope{ScopeAdmin}},
		{CommandSetPersona, []Scope{ScopeAdmin, ScopeOperate}},
		{CommandSetMorphicMode, []Scope{ScopeAdmin}},
	}
	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			got := ScopesFor(tt.cmd)
			if len(got) != len(tt.want) {
				t.Fatalf("ScopesFor(%s) = %v, want %v", tt.cmd, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ScopesFor(%s)[%d] = %s, want %s", tt.cmd, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScopesForUnknownCommand(t *testing.T) {
	if got := ScopesFor(Command("bogus")); got != nil {
		t.Fatalf("ScopesFor(bogus) = %v, want nil", got)
	}
}

func TestAuthorized(t *testing.T) {
	if !Authorized(CommandFlush, []Scope{ScopeOperate}) {
		t.Fatal("operator scope should authorize flush")
	}
	if Authorized(CommandHalt, []Scope{ScopeOperate}) {
		t.Fatal("operator scope should not authorize halt")
	}
	if !Authorized(CommandHalt, []Scope{ScopeAdmin}) {
		t.Fatal("admin scope should authorize halt")
	}
	if Authorized(Command("bogus"), []Scope{ScopeAdmin}) {
		t.Fatal("unknown command should never be authorized")
	}
	if Authorized(CommandHalt, nil) {
		t.Fatal("no granted scopes should never authorize")
	}
}
